package images

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/infrastructure"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/jitter"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

const cleanupAttempts = 3

// ImagesInfrastructure управляет загрузкой изображений в хранилище и фоновой
// очисткой файлов, оставшихся после неудачного добавления в индекс.
type ImagesInfrastructure struct {
	repo        usecase.ImageRepository
	logger      logger.Logger
	shutdownCtx context.Context
	wg          sync.WaitGroup
	backoff     jitter.Backoff
}

func NewImagesInfrastructure(repo usecase.ImageRepository, logger logger.Logger, shutdownCtx context.Context) *ImagesInfrastructure {
	return &ImagesInfrastructure{
		repo:        repo,
		logger:      logger,
		shutdownCtx: shutdownCtx,
		backoff:     jitter.Backoff{Base: time.Second, Max: 8 * time.Second, Factor: jitter.DefaultJitter},
	}
}

// UploadImage сохраняет изображение, не перезаписывая чужие файлы. Ключ без расширения
// дополняется расширением по MIME-типу.
func (m *ImagesInfrastructure) UploadImage(ctx context.Context, image *domain.Image) (string, error) {
	const op = "ImagesInfrastructure.UploadImage"

	if path.Ext(image.Key) == "" {
		ext, err := infrastructure.GetExtensionFromMIME(image.ContentType)
		if err != nil {
			return "", e.Wrap(op, fmt.Errorf("mime type %s of %s: %w", image.ContentType, image.Key, err))
		}
		image.Key = fmt.Sprintf("%s.%s", image.Key, ext)
	}

	key, err := m.repo.Upload(ctx, image)
	if errors.Is(err, e.ErrImageExists) {
		// Занятый ключ возвращается, чтобы вызывающий мог сравнить содержимое
		return image.Key, e.Wrap(op, err)
	}
	if err != nil {
		return "", e.Wrap(op, err)
	}
	return key, nil
}

// CleanupImages запускает фоновую очистку указанных ключей
func (m *ImagesInfrastructure) CleanupImages(keys []string) {
	if len(keys) == 0 {
		return
	}
	m.wg.Add(1)
	go m.cleanupUploadedKeys(keys)
}

// cleanupUploadedKeys удаляет указанные объекты с экспоненциальной задержкой и jitter.
func (m *ImagesInfrastructure) cleanupUploadedKeys(keys []string) {
	defer m.wg.Done() // сигнализируем завершение компенсации
	const op = "ImagesInfrastructure.cleanupUploadedKeys"
	m.logger.Infof("%s: Cleaning up %d uploaded keys", op, len(keys))

	// Создаём контекст с таймаутом на основе shutdownCtx
	ctx, cancel := context.WithTimeout(m.shutdownCtx, 30*time.Second)
	defer cancel()

	for _, key := range keys {
		for attempt := 0; attempt < cleanupAttempts; attempt++ {
			err := m.repo.Delete(ctx, key)
			if err == nil {
				break
			}
			if attempt == cleanupAttempts-1 {
				m.logger.Errorf(err, "%s: giving up on key=%s", op, key)
				break
			}
			if err := m.backoff.Wait(ctx, attempt); err != nil {
				m.logger.Warnf("cleanup interrupted by shutdown, key=%v", key)
				return
			}
		}
	}
}

// WaitForCleanup ожидает завершения всех фоновых задач очистки с учётом таймаута завершения приложения.
func (m *ImagesInfrastructure) WaitForCleanup(shutdownTimeoutCtx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownTimeoutCtx.Done():
		return fmt.Errorf("image cleanup timeout during shutdown: %w", shutdownTimeoutCtx.Err())
	}
}
