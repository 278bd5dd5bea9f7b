package converter

// CatalogItemRedisModel товар каталога в кэше Redis.
type CatalogItemRedisModel struct {
	ItemID        string   `json:"item_id"`
	ItemName      string   `json:"item_name"`
	ProductType   []string `json:"product_type"`
	MainImageID   string   `json:"main_image_id"`
	OtherImageIDs []string `json:"other_image_ids"`
}
