package converter

import "time"

// CatalogItemModel представляет запись таблицы catalog_items в PostgreSQL.
type CatalogItemModel struct {
	ItemID        string     `db:"item_id"`
	ItemName      string     `db:"item_name"`
	ProductType   []string   `db:"product_type"`
	MainImageID   string     `db:"main_image_id"`
	OtherImageIDs []string   `db:"other_image_ids"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     *time.Time `db:"updated_at"`
}
