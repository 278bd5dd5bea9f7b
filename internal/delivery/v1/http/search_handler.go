package http

import (
	"net/http"

	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

type SearchHandler struct {
	searchUC    usecase.SearchUC
	maxFileSize int64
	logger      logger.Logger
}

func NewSearchHandler(searchUC usecase.SearchUC, maxFileSize int64, logger logger.Logger) *SearchHandler {
	return &SearchHandler{searchUC: searchUC, maxFileSize: maxFileSize, logger: logger}
}

// search принимает multipart-форму: file, top_k, method, with_products.
func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	const op = "SearchHandler.search"

	req, err := h.parseSearchForm(w, r)
	if err != nil {
		h.logger.Warnf("%s: %d %v", op, http.StatusBadRequest, err)
		WriteError(w, err)
		return
	}

	res, err := h.searchUC.Search(r.Context(), req)
	if err != nil {
		code, _ := ToHTTPResponse(err)
		if code >= http.StatusInternalServerError {
			h.logger.Errorf(err, "%s", op)
		} else {
			h.logger.Warnf("%s: %d %v", op, code, err)
		}
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

func (h *SearchHandler) parseSearchForm(w http.ResponseWriter, r *http.Request) (*usecase.SearchReq, error) {
	if err := ensureMultipartForm(w, r, h.maxFileSize); err != nil {
		return nil, err
	}
	data, err := readFile(r, "file", h.maxFileSize)
	if err != nil {
		return nil, err
	}
	topK, err := parseInt(r, "top_k")
	if err != nil {
		return nil, err
	}
	withProducts, err := parseBool(r, "with_products")
	if err != nil {
		return nil, err
	}
	return &usecase.SearchReq{
		Image:        data,
		TopK:         topK,
		Method:       r.FormValue("method"),
		WithProducts: withProducts,
	}, nil
}

func (h *SearchHandler) methods(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, toMethodResponses(h.searchUC.Methods()))
}

// health отвечает 200, пока сервис принимает запросы. Индексы к этому моменту уже восстановлены.
func (h *SearchHandler) health(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Methods: toMethodResponses(h.searchUC.Methods()),
	})
}
