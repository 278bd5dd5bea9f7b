package converter

import "github.com/DRSN-tech/visual-search/internal/domain"

type CatalogItemConverter interface {
	ToRedisModel(entity *domain.CatalogItem) *CatalogItemRedisModel
	ToEntity(model *CatalogItemRedisModel) *domain.CatalogItem
	ToArrRedisModel(entities []domain.CatalogItem) []CatalogItemRedisModel
}

type CatalogItemConverterImpl struct{}

func (c *CatalogItemConverterImpl) ToRedisModel(entity *domain.CatalogItem) *CatalogItemRedisModel {
	if entity == nil {
		return nil
	}
	return &CatalogItemRedisModel{
		ItemID:        entity.ItemID,
		ItemName:      entity.ItemName,
		ProductType:   entity.ProductType,
		MainImageID:   entity.MainImageID,
		OtherImageIDs: entity.OtherImageIDs,
	}
}

func (c *CatalogItemConverterImpl) ToEntity(model *CatalogItemRedisModel) *domain.CatalogItem {
	if model == nil {
		return nil
	}
	return domain.NewCatalogItem(model.ItemID, model.ItemName, model.MainImageID,
		model.ProductType, model.OtherImageIDs)
}

func (c *CatalogItemConverterImpl) ToArrRedisModel(entities []domain.CatalogItem) []CatalogItemRedisModel {
	out := make([]CatalogItemRedisModel, 0, len(entities))
	for i := range entities {
		out = append(out, *c.ToRedisModel(&entities[i]))
	}
	return out
}
