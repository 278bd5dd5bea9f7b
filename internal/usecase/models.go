package usecase

import (
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

// SEARCH USECASE

// SearchReq — запрос поиска похожих изображений.
type SearchReq struct {
	Image        []byte
	TopK         int
	Method       string
	WithProducts bool
}

// SearchRes — ранжированные результаты, лучший первый.
type SearchRes struct {
	Method  string
	Results []domain.SearchHit
}

// MethodInfo описывает одно семейство индекса.
type MethodInfo struct {
	Method    string
	Dimension int
	Size      int
	Embedder  string
	Default   bool
}

// IMAGE USECASE

// AddImageReq — запрос на онлайн-добавление изображения.
type AddImageReq struct {
	Image     []byte
	ItemID    string
	ImageID   string // необязательный
	ImagePath string // необязательный, относительный путь в хранилище
	Method    string
}

type AddImageRes struct {
	ImageID   string
	ItemID    string
	ImagePath string
	Position  int
	Method    string
}

// CATALOG USECASE

// GetProductsReq запрос товаров каталога по их идентификаторам.
type GetProductsReq struct {
	IDs []string
}

// GetProductsRes — найденные товары в порядке запроса и ненайденные идентификаторы.
type GetProductsRes struct {
	Products         []domain.CatalogItem
	NotFoundProducts []string
}

func NewGetProductsRes(products []domain.CatalogItem, notFound []string) *GetProductsRes {
	return &GetProductsRes{Products: products, NotFoundProducts: notFound}
}

// BUILD USECASE

// BuildReq — параметры построения индекса одного метода.
type BuildReq struct {
	Method string
	// Resume продолжает с курсора последнего снимка вместо построения с нуля.
	Resume bool
	// Progress вызывается после фиксации каждого батча.
	Progress func(BatchStats)
}

// BatchStats — итог одного батча.
type BatchStats struct {
	Index     int
	Processed int // элементов корпуса учтено с начала корпуса
	Succeeded int
	Skipped   int
	Duration  time.Duration
}

// BuildReport — итог построения. Interrupted означает остановку по отмене контекста
// после фиксации последнего полного батча.
type BuildReport struct {
	Method      string
	Total       int
	Succeeded   int
	Skipped     int
	Batches     int
	StartCursor int
	Duration    time.Duration
	Interrupted bool
	Generation  uint64
}

// EVALUATE USECASE

// EvaluateReq — параметры проверки точности: поиск по случайным изображениям из индекса.
type EvaluateReq struct {
	Method  string
	Samples int
	TopK    int
	Seed    uint64
}

// EvaluateReport — доля запросов, где исходное изображение (или его товар) попал в top-k.
type EvaluateReport struct {
	Method      string
	Samples     int
	Passed      int
	Failed      int
	Skipped     int
	PassRate    float64
	MeanLatency time.Duration
}
