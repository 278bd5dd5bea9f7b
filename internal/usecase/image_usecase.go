package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/internal/metrics"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/google/uuid"
)

// ImageUseCase добавляет изображения в работающий индекс и отдаёт сохранённые изображения.
type ImageUseCase struct {
	families    *family.Registry
	imagesInfra ImagesInfra
	imageRepo   ImageRepository
	listener    IndexListener
	logger      logger.Logger
}

func NewImageUC(
	families *family.Registry,
	imagesInfra ImagesInfra,
	imageRepo ImageRepository,
	listener IndexListener,
	logger logger.Logger,
) *ImageUseCase {
	return &ImageUseCase{
		families:    families,
		imagesInfra: imagesInfra,
		imageRepo:   imageRepo,
		listener:    listener,
		logger:      logger,
	}
}

// AddImage извлекает эмбеддинг, сохраняет файл изображения и атомарно добавляет
// вектор с метаданными в индекс с публикацией снимка.
func (uc *ImageUseCase) AddImage(ctx context.Context, req *AddImageReq) (res *AddImageRes, err error) {
	const op = "ImageUseCase.AddImage"

	f, err := uc.families.Get(req.Method)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeFailed
		}
		metrics.OnlineAdds.WithLabelValues(f.Method(), outcome).Inc()
	}()

	// Валидация данных
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		return nil, e.Wrap(op, fmt.Errorf("%w: item_id", e.ErrMissingFields))
	}
	if err := validateImage(req.Image); err != nil {
		return nil, e.Wrap(op, err)
	}
	imagePath, err := cleanImagePath(req.ImagePath)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	imageID := strings.TrimSpace(req.ImageID)
	switch {
	case imageID != "":
	case imagePath != "":
		imageID = imageIDFromPath(imagePath)
	default:
		imageID = uuid.NewString()
	}
	if _, err := f.RecordByImage(imageID); err == nil {
		return nil, e.Wrap(op, fmt.Errorf("%w: image_id %s", e.ErrImageExists, imageID))
	}
	if imagePath != "" {
		if rec, err := f.RecordByPath(imagePath); err == nil {
			return nil, e.Wrap(op, fmt.Errorf("%w: image_path %s belongs to %s", e.ErrImageExists, imagePath, rec.ImageID))
		}
	}

	// Сначала эмбеддинг: ошибка извлечения не меняет никакого состояния
	vec, err := embed(ctx, f, req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// Без явного пути ключ дополняется расширением по MIME-типу
	key := imagePath
	if key == "" {
		key = imageID
	}
	key, owned, err := uc.storeImage(ctx, key, req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	added, err := f.AppendDurable(ctx, family.Entry{
		Vector:    vec,
		ImageID:   imageID,
		ItemID:    itemID,
		ImagePath: key,
	})
	if err != nil {
		if owned {
			uc.logger.Warnf("Cleaning up orphaned image after failed index update. image_id: %s, error: %v", imageID, e.Wrap(op, err))
			uc.imagesInfra.CleanupImages([]string{key})
		}
		return nil, e.Wrap(op, err)
	}

	if uc.listener != nil {
		if err := uc.listener.OnIndexed(ctx, f.Method(), []domain.IndexedImage{added}); err != nil {
			uc.logger.Warnf("%s: image %s indexed, listeners failed: %v", op, imageID, err)
		}
	}

	uc.logger.Infof("image %s of item %s added to %s at position %d", imageID, itemID, f.Method(), added.Record.Position)
	return &AddImageRes{
		ImageID:   added.Record.ImageID,
		ItemID:    added.Record.ItemID,
		ImagePath: added.Record.ImagePath,
		Position:  added.Record.Position,
		Method:    f.Method(),
	}, nil
}

// storeImage сохраняет файл изображения и возвращает итоговый ключ. Если по ключу уже
// лежит побайтно тот же файл (то же изображение в другом методе), он переиспользуется
// с owned=false и не удаляется при откате. Другое содержимое даёт e.ErrImageExists.
func (uc *ImageUseCase) storeImage(ctx context.Context, key string, data []byte) (string, bool, error) {
	const op = "ImageUseCase.storeImage"

	stored, err := uc.imagesInfra.UploadImage(ctx, domain.NewImage(key, data, http.DetectContentType(data)))
	switch {
	case err == nil:
		return stored, true, nil
	case errors.Is(err, e.ErrImageExists):
		existing, dErr := uc.imageRepo.Download(ctx, stored)
		if dErr == nil && bytes.Equal(existing.Data, data) {
			return stored, false, nil
		}
		return "", false, e.Wrap(op, err)
	default:
		return "", false, e.Wrap(op, e.Mark(e.ErrPersistence, err))
	}
}

// GetImage отдаёт сохранённое изображение по относительному пути.
func (uc *ImageUseCase) GetImage(ctx context.Context, key string) (*domain.Image, error) {
	const op = "ImageUseCase.GetImage"

	key, err := cleanImagePath(key)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if key == "" {
		return nil, e.Wrap(op, e.ErrNotFound)
	}

	image, err := uc.imageRepo.Download(ctx, key)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return image, nil
}
