package usecase

import (
	"context"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/internal/metrics"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

// SearchUseCase ищет похожие изображения в индексе выбранного метода.
type SearchUseCase struct {
	families    *family.Registry
	catalog     CatalogUC
	defaultTopK int
	maxTopK     int
	logger      logger.Logger
}

// NewSearchUC создаёт сервис поиска. catalog может быть nil, тогда товары к результатам не присоединяются.
func NewSearchUC(families *family.Registry, catalog CatalogUC, defaultTopK, maxTopK int, logger logger.Logger) *SearchUseCase {
	return &SearchUseCase{
		families:    families,
		catalog:     catalog,
		defaultTopK: defaultTopK,
		maxTopK:     maxTopK,
		logger:      logger,
	}
}

// Search извлекает эмбеддинг запроса, ищет ближайшие векторы и разрешает их метаданные.
func (s *SearchUseCase) Search(ctx context.Context, req *SearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.Search"

	// Метод проверяется до извлечения эмбеддинга
	f, err := s.families.Get(req.Method)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	k, err := s.topK(req.TopK)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if err := validateImage(req.Image); err != nil {
		return nil, e.Wrap(op, err)
	}

	defer metrics.ObserveSince(metrics.SearchDuration, f.Method(), time.Now())

	query, err := embed(ctx, f, req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	hits, err := f.Search(query, k)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if req.WithProducts {
		s.attachProducts(ctx, hits)
	}

	return &SearchRes{Method: f.Method(), Results: hits}, nil
}

// Methods перечисляет настроенные семейства индекса.
func (s *SearchUseCase) Methods() []MethodInfo {
	all := s.families.All()
	out := make([]MethodInfo, 0, len(all))
	for _, f := range all {
		out = append(out, MethodInfo{
			Method:    f.Method(),
			Dimension: f.Dimension(),
			Size:      f.Size(),
			Embedder:  f.Embedder().Name(),
			Default:   f.Method() == s.families.Default(),
		})
	}
	return out
}

func (s *SearchUseCase) topK(k int) (int, error) {
	if k == 0 {
		return s.defaultTopK, nil
	}
	if k < 0 || k > s.maxTopK {
		return 0, e.ErrInvalidTopK
	}
	return k, nil
}

// attachProducts присоединяет товары каталога. Ошибка каталога не ломает поиск.
func (s *SearchUseCase) attachProducts(ctx context.Context, hits []domain.SearchHit) {
	if s.catalog == nil || len(hits) == 0 {
		return
	}

	ids := uniqueItemIDs(hits, func(h domain.SearchHit) string { return h.ItemID })
	res, err := s.catalog.GetProducts(ctx, &GetProductsReq{IDs: ids})
	if err != nil {
		s.logger.Warnf("catalog lookup failed, returning results without products: %v", err)
		return
	}

	byID := make(map[string]*domain.CatalogItem, len(res.Products))
	for i := range res.Products {
		byID[res.Products[i].ItemID] = &res.Products[i]
	}
	for i := range hits {
		hits[i].Product = byID[hits[i].ItemID]
	}
}
