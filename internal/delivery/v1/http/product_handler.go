package http

import (
	"net/http"

	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type ProductHandler struct {
	catalogUC usecase.CatalogUC
	logger    logger.Logger
}

func NewProductHandler(catalogUC usecase.CatalogUC, logger logger.Logger) *ProductHandler {
	return &ProductHandler{catalogUC: catalogUC, logger: logger}
}

func (p *ProductHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	const op = "ProductHandler.getProduct"

	item, err := p.catalogUC.GetProduct(r.Context(), chi.URLParam(r, "item_id"))
	if err != nil {
		if code, _ := ToHTTPResponse(err); code >= http.StatusInternalServerError {
			p.logger.Errorf(err, "%s", op)
		}
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toProductResponse(item))
}
