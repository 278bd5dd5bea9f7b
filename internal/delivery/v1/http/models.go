package http

import (
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/usecase"
)

type productResponse struct {
	ItemID        string   `json:"item_id"`
	ItemName      string   `json:"item_name"`
	ProductType   []string `json:"product_type"`
	MainImageID   string   `json:"main_image_id"`
	OtherImageIDs []string `json:"other_image_ids"`
}

type searchHitResponse struct {
	ImageID   string           `json:"image_id"`
	ItemID    string           `json:"item_id"`
	ImagePath string           `json:"image_path"`
	Score     float32          `json:"score"`
	Position  int              `json:"position"`
	Product   *productResponse `json:"product,omitempty"`
}

type searchResponse struct {
	Method  string              `json:"method"`
	Results []searchHitResponse `json:"results"`
}

type addImageResponse struct {
	ImageID   string `json:"image_id"`
	ItemID    string `json:"item_id"`
	ImagePath string `json:"image_path"`
	Position  int    `json:"position"`
	Method    string `json:"method"`
}

type methodResponse struct {
	Method    string `json:"method"`
	Dimension int    `json:"dimension"`
	Size      int    `json:"size"`
	Embedder  string `json:"embedder"`
	Default   bool   `json:"default"`
}

type healthResponse struct {
	Status  string           `json:"status"`
	Methods []methodResponse `json:"methods"`
}

func toProductResponse(p *domain.CatalogItem) *productResponse {
	if p == nil {
		return nil
	}
	return &productResponse{
		ItemID:        p.ItemID,
		ItemName:      p.ItemName,
		ProductType:   p.ProductType,
		MainImageID:   p.MainImageID,
		OtherImageIDs: p.OtherImageIDs,
	}
}

func toSearchResponse(res *usecase.SearchRes) searchResponse {
	out := searchResponse{Method: res.Method, Results: make([]searchHitResponse, len(res.Results))}
	for i, h := range res.Results {
		out.Results[i] = searchHitResponse{
			ImageID:   h.ImageID,
			ItemID:    h.ItemID,
			ImagePath: h.ImagePath,
			Score:     h.Score,
			Position:  h.Position,
			Product:   toProductResponse(h.Product),
		}
	}
	return out
}

func toMethodResponses(methods []usecase.MethodInfo) []methodResponse {
	out := make([]methodResponse, len(methods))
	for i, m := range methods {
		out[i] = methodResponse(m)
	}
	return out
}
