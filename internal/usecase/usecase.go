package usecase

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

type SearchUC interface {
	Search(ctx context.Context, req *SearchReq) (*SearchRes, error)
	Methods() []MethodInfo
}

type ImageUC interface {
	AddImage(ctx context.Context, req *AddImageReq) (*AddImageRes, error)
	GetImage(ctx context.Context, key string) (*domain.Image, error)
}

type CatalogUC interface {
	GetProduct(ctx context.Context, itemID string) (*domain.CatalogItem, error)
	GetProducts(ctx context.Context, req *GetProductsReq) (*GetProductsRes, error)
	ImportCatalog(ctx context.Context) (int, error)
}

type BuildUC interface {
	Build(ctx context.Context, req *BuildReq) (*BuildReport, error)
}

type EvaluateUC interface {
	Evaluate(ctx context.Context, req *EvaluateReq) (*EvaluateReport, error)
}
