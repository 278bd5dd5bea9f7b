package usecase

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

type CatalogRepository interface {
	GetItems(ctx context.Context, ids []string) ([]domain.CatalogItem, error)
	UpsertItems(ctx context.Context, items []domain.CatalogItem) (int, error)
}

type CacheRepository interface {
	GetItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error)
	SetItems(ctx context.Context, items []domain.CatalogItem) error
	DeleteItems(ctx context.Context, ids []string) error
}

// ImageRepository хранилище файлов изображений. Upload не перезаписывает занятый ключ
// и возвращает e.ErrImageExists.
type ImageRepository interface {
	Upload(ctx context.Context, image *domain.Image) (string, error)
	Download(ctx context.Context, key string) (*domain.Image, error)
	Delete(ctx context.Context, key string) error
}

// CorpusRepository отдаёт упорядоченный список изображений для построения индекса.
type CorpusRepository interface {
	Load(ctx context.Context) ([]domain.CorpusEntry, error)
}

// CatalogSource исходный файл каталога для импорта.
type CatalogSource interface {
	Load(ctx context.Context) ([]domain.CatalogItem, error)
}
