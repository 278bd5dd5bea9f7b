package domain

// SearchHit один результат поиска по изображению.
type SearchHit struct {
	Record
	Score   float32
	Product *CatalogItem
}
