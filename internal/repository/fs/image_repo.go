package fs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/google/renameio"
	"github.com/jimlawless/whereami"
)

// ImageRepo хранит изображения файлами в каталоге root (SHOE_IMAGES_FOLDER).
// Ключ изображения — путь относительно root с разделителем "/".
type ImageRepo struct {
	root string
}

func NewImageRepo(root string) (*ImageRepo, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return &ImageRepo{root: abs}, nil
}

// Upload атомарно создаёт файл: читатель видит либо полный файл, либо его отсутствие.
// Существующий файл не перезаписывается, вместо этого возвращается e.ErrImageExists.
func (i *ImageRepo) Upload(ctx context.Context, image *domain.Image) (string, error) {
	p, err := i.resolve(image.Key)
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	if err := ctx.Err(); err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	pending, err := renameio.TempFile(filepath.Dir(p), p)
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(image.Data); err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	if err := pending.Sync(); err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	// link, в отличие от rename, не заменяет существующий файл
	if err := os.Link(pending.Name(), p); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: image_path %s", e.ErrImageExists, image.Key))
		}
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return image.Key, nil
}

// Download читает файл изображения. Отсутствующий файл — e.ErrNotFound.
func (i *ImageRepo) Download(ctx context.Context, key string) (*domain.Image, error) {
	p, err := i.resolve(key)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: image %s", e.ErrNotFound, key))
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return domain.NewImage(key, data, http.DetectContentType(data)), nil
}

// Delete удаляет файл; отсутствие файла не ошибка.
func (i *ImageRepo) Delete(ctx context.Context, key string) error {
	p, err := i.resolve(key)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}

// resolve переводит ключ в путь внутри root и запрещает выход за его пределы.
func (i *ImageRepo) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty image key", e.ErrInvalidInput)
	}
	p := filepath.Join(i.root, filepath.FromSlash(key))
	if p != i.root && !strings.HasPrefix(p, i.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: image key %q escapes storage root", e.ErrInvalidInput, key)
	}
	return p, nil
}
