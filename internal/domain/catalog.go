package domain

// CatalogItem описывает товар каталога
type CatalogItem struct {
	ItemID        string
	ProductType   []string
	ItemName      string
	MainImageID   string
	OtherImageIDs []string
}

func NewCatalogItem(itemID, itemName, mainImageID string, productType, otherImageIDs []string) *CatalogItem {
	return &CatalogItem{
		ItemID:        itemID,
		ProductType:   productType,
		ItemName:      itemName,
		MainImageID:   mainImageID,
		OtherImageIDs: otherImageIDs,
	}
}
