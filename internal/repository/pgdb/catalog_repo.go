package pgdb

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/tr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// CatalogRepo реализует репозиторий каталога товаров поверх PostgreSQL.
type CatalogRepo struct {
	pool *pgxpool.Pool
	conv converter.CatalogItemConverter
}

func NewCatalogRepo(pool *pgxpool.Pool, conv converter.CatalogItemConverter) *CatalogRepo {
	return &CatalogRepo{
		pool: pool,
		conv: conv,
	}
}

// GetItems возвращает товары по их идентификаторам. Отсутствующие товары просто не попадают в результат.
func (c *CatalogRepo) GetItems(ctx context.Context, ids []string) ([]domain.CatalogItem, error) {
	query := `
		SELECT item_id, item_name, product_type, main_image_id, other_image_ids, created_at, updated_at
		FROM catalog_items
		WHERE item_id = ANY($1)
	`

	rows, err := c.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	models, err := pgx.CollectRows(rows, pgx.RowToStructByName[converter.CatalogItemModel])
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return c.conv.ToArrEntity(models), nil
}

// UpsertItems идемпотентно создаёт или обновляет товары в транзакции из контекста.
// Запись обновляется, только если изменилось хотя бы одно поле. Возвращает число изменённых строк.
func (c *CatalogRepo) UpsertItems(ctx context.Context, items []domain.CatalogItem) (int, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}

	// VALUES ($1, $2, $3, $4, $5) item_id, item_name, product_type, main_image_id, other_image_ids
	query := `
		INSERT INTO catalog_items (item_id, item_name, product_type, main_image_id, other_image_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id)
		DO UPDATE SET
			item_name = EXCLUDED.item_name,
			product_type = EXCLUDED.product_type,
			main_image_id = EXCLUDED.main_image_id,
			other_image_ids = EXCLUDED.other_image_ids,
			updated_at = NOW()
		WHERE
			catalog_items.item_name IS DISTINCT FROM EXCLUDED.item_name OR
			catalog_items.product_type IS DISTINCT FROM EXCLUDED.product_type OR
			catalog_items.main_image_id IS DISTINCT FROM EXCLUDED.main_image_id OR
			catalog_items.other_image_ids IS DISTINCT FROM EXCLUDED.other_image_ids
	`

	batch := &pgx.Batch{}
	for i := range items {
		m := c.conv.ToModel(&items[i])
		batch.Queue(query, m.ItemID, m.ItemName, m.ProductType, m.MainImageID, m.OtherImageIDs)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	changed := 0
	for range items {
		tag, err := results.Exec()
		if err != nil {
			return 0, e.Wrap(whereami.WhereAmI(), err)
		}
		changed += int(tag.RowsAffected())
	}

	if err := results.Close(); err != nil {
		return 0, e.Wrap(whereami.WhereAmI(), err)
	}
	return changed, nil
}
