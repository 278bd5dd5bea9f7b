package http

import (
	"time"

	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

// RouterDeps сценарии и ограничения, которые нужны обработчикам.
type RouterDeps struct {
	Search         usecase.SearchUC
	Images         usecase.ImageUC
	Catalog        usecase.CatalogUC
	MaxFileSize    int64
	RequestTimeout time.Duration
	AllowedOrigins []string
}

func (r *Router) Init(deps RouterDeps) {
	r.router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		cors(deps.AllowedOrigins),
	)

	searchHandler := NewSearchHandler(deps.Search, deps.MaxFileSize, r.logger)
	imageHandler := NewImageHandler(deps.Images, deps.MaxFileSize, r.logger)
	prHandler := NewProductHandler(deps.Catalog, r.logger)

	r.router.Get("/health", searchHandler.health)
	r.router.Handle("/metrics", promhttp.Handler())
	r.router.Get("/images/*", imageHandler.getImage)

	r.router.Route("/api/v1", func(v1 chi.Router) {
		if deps.RequestTimeout > 0 {
			v1.Use(middleware.Timeout(deps.RequestTimeout))
		}
		registerSearchRoutes(v1, searchHandler)
		registerImageRoutes(v1, imageHandler)
		registerProductRoutes(v1, prHandler)
	})
}

func registerSearchRoutes(router chi.Router, h *SearchHandler) {
	router.Post("/search", h.search)
	router.Get("/methods", h.methods)
}

func registerImageRoutes(router chi.Router, h *ImageHandler) {
	router.Route("/images", func(im chi.Router) {
		im.Post("/", h.addImage)
	})
}

func registerProductRoutes(router chi.Router, h *ProductHandler) {
	router.Route("/products", func(pr chi.Router) {
		pr.Get("/{item_id}", h.getProduct)
	})
}
