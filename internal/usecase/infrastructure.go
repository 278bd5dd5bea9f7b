package usecase

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

type ImagesInfra interface {
	UploadImage(ctx context.Context, image *domain.Image) (string, error)
	CleanupImages(keys []string)
}

// IndexListener получает изображения, уже зафиксированные в индексе метода.
// Ошибка подписчика не откатывает индекс.
type IndexListener interface {
	OnIndexed(ctx context.Context, method string, images []domain.IndexedImage) error
}

// Transactor выполняет fn в одной транзакции БД.
type Transactor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
