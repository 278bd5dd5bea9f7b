package converter

import "github.com/DRSN-tech/visual-search/internal/domain"

// CatalogItemConverter преобразует товары каталога между domain и моделью PostgreSQL.
type CatalogItemConverter interface {
	ToModel(entity *domain.CatalogItem) *CatalogItemModel
	ToEntity(model *CatalogItemModel) *domain.CatalogItem
	ToArrEntity(models []CatalogItemModel) []domain.CatalogItem
}

type CatalogItemConverterImpl struct{}

func (c *CatalogItemConverterImpl) ToModel(entity *domain.CatalogItem) *CatalogItemModel {
	if entity == nil {
		return nil
	}
	return &CatalogItemModel{
		ItemID:        entity.ItemID,
		ItemName:      entity.ItemName,
		ProductType:   nonNil(entity.ProductType),
		MainImageID:   entity.MainImageID,
		OtherImageIDs: nonNil(entity.OtherImageIDs),
	}
}

func (c *CatalogItemConverterImpl) ToEntity(model *CatalogItemModel) *domain.CatalogItem {
	if model == nil {
		return nil
	}
	return domain.NewCatalogItem(model.ItemID, model.ItemName, model.MainImageID,
		model.ProductType, model.OtherImageIDs)
}

func (c *CatalogItemConverterImpl) ToArrEntity(models []CatalogItemModel) []domain.CatalogItem {
	out := make([]domain.CatalogItem, 0, len(models))
	for i := range models {
		out = append(out, *c.ToEntity(&models[i]))
	}
	return out
}

// nonNil массивы TEXT[] объявлены NOT NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
