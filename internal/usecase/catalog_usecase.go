package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

// CatalogUseCase отдаёт товары каталога с кэшированием и импортирует каталог из файла.
type CatalogUseCase struct {
	catalogRepo CatalogRepository
	cacheRepo   CacheRepository
	source      CatalogSource
	tr          Transactor
	logger      logger.Logger
}

// NewCatalogUC создаёт сервис каталога. cacheRepo может быть nil, если кэш отключён.
func NewCatalogUC(
	catalogRepo CatalogRepository,
	cacheRepo CacheRepository,
	source CatalogSource,
	tr Transactor,
	logger logger.Logger,
) *CatalogUseCase {
	return &CatalogUseCase{
		catalogRepo: catalogRepo,
		cacheRepo:   cacheRepo,
		source:      source,
		tr:          tr,
		logger:      logger,
	}
}

// GetProduct возвращает один товар или e.ErrNotFound.
func (c *CatalogUseCase) GetProduct(ctx context.Context, itemID string) (*domain.CatalogItem, error) {
	const op = "CatalogUseCase.GetProduct"

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, e.Wrap(op, fmt.Errorf("%w: item_id", e.ErrMissingFields))
	}

	res, err := c.GetProducts(ctx, &GetProductsReq{IDs: []string{itemID}})
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if len(res.Products) == 0 {
		return nil, e.Wrap(op, fmt.Errorf("%w: item %s", e.ErrNotFound, itemID))
	}
	return &res.Products[0], nil
}

// GetProducts возвращает товары по идентификаторам: сначала из кэша, остальное из БД.
func (c *CatalogUseCase) GetProducts(ctx context.Context, req *GetProductsReq) (*GetProductsRes, error) {
	const op = "CatalogUseCase.GetProducts"

	// Валидация
	if len(req.IDs) == 0 {
		return nil, e.Wrap(op, fmt.Errorf("%w: no item ids", e.ErrMissingFields))
	}

	// Поиск товаров в кэше
	var (
		cached       map[string]domain.CatalogItem
		nonCacheable []string
	)
	if c.cacheRepo != nil {
		var err error
		cached, err = c.cacheRepo.GetItems(ctx, req.IDs)
		if err != nil {
			c.logger.Warnf("catalog cache unavailable: %v", e.Wrap(op, err))
			cached = nil
		}
	}
	for _, id := range req.IDs {
		if _, ok := cached[id]; !ok {
			nonCacheable = append(nonCacheable, id)
		}
	}

	// Получение товаров из БД
	var fromDB []domain.CatalogItem
	if len(nonCacheable) > 0 {
		var err error
		fromDB, err = c.catalogRepo.GetItems(ctx, nonCacheable)
		if err != nil {
			return nil, e.Wrap(op, err)
		}

		// Фоновое добавление товаров в кэш
		if c.cacheRepo != nil && len(fromDB) > 0 {
			go func() {
				bgCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
				defer cancel()

				if err := c.cacheRepo.SetItems(bgCtx, fromDB); err != nil {
					c.logger.Warnf("Failed to cache products in background: %v", e.Wrap(op, err))
				}
			}()
		}
	}

	dbItems := make(map[string]domain.CatalogItem, len(fromDB))
	for _, it := range fromDB {
		dbItems[it.ItemID] = it
	}

	// Формирование результата в порядке запроса
	result := make([]domain.CatalogItem, 0, len(req.IDs))
	notFound := make([]string, 0)
	for _, id := range req.IDs {
		if it, ok := cached[id]; ok {
			result = append(result, it)
		} else if it, ok := dbItems[id]; ok {
			result = append(result, it)
		} else {
			notFound = append(notFound, id)
		}
	}

	return NewGetProductsRes(result, notFound), nil
}

// ImportCatalog загружает каталог из источника в БД одной транзакцией и сбрасывает кэш этих товаров.
func (c *CatalogUseCase) ImportCatalog(ctx context.Context) (int, error) {
	const op = "CatalogUseCase.ImportCatalog"

	items, err := c.source.Load(ctx)
	if err != nil {
		return 0, e.Wrap(op, err)
	}
	if err := validateCatalog(items); err != nil {
		return 0, e.Wrap(op, err)
	}

	var upserted int
	err = c.tr.Do(ctx, func(ctx context.Context) error {
		n, err := c.catalogRepo.UpsertItems(ctx, items)
		if err != nil {
			return err
		}
		upserted = n
		return nil
	})
	if err != nil {
		return 0, e.Wrap(op, err)
	}

	// Удаление из кэша старых данных товаров
	if c.cacheRepo != nil {
		ids := uniqueItemIDs(items, func(it domain.CatalogItem) string { return it.ItemID })
		if err := c.cacheRepo.DeleteItems(ctx, ids); err != nil {
			c.logger.Warnf("Failed to delete products from cache: %v", e.Wrap(op, err))
		}
	}

	c.logger.Infof("catalog imported: %d items read, %d upserted", len(items), upserted)
	return upserted, nil
}

// validateCatalog требует непустой и уникальный item_id у каждого товара.
func validateCatalog(items []domain.CatalogItem) error {
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ItemID) == "" {
			return fmt.Errorf("%w: item #%d has no item_id", e.ErrMissingFields, i)
		}
		if _, ok := seen[it.ItemID]; ok {
			return fmt.Errorf("%w: duplicate item_id %s", e.ErrInvalidInput, it.ItemID)
		}
		seen[it.ItemID] = struct{}{}
	}
	return nil
}
