// Package embedder описывает извлечение эмбеддингов из изображений и локальные реализации.
package embedder

import (
	"context"
	"net/http"
	"strings"

	"github.com/DRSN-tech/visual-search/pkg/e"
)

// Embedder превращает байты изображения в вектор фиксированной размерности с единичной нормой.
// Реализации должны быть безопасны для конкурентного вызова.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
	Dimension() int
	Name() string
}

// IsImage проверяет сигнатуру содержимого.
func IsImage(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return strings.HasPrefix(http.DetectContentType(data[:min(len(data), 512)]), "image/")
}

// checkDimension сверяет размерность ответа с заявленной.
func checkDimension(name string, want int, v []float32) error {
	if len(v) != want {
		return e.Mark(e.ErrEmbeddingExtraction,
			e.Wrap(name, e.Wrap("unexpected vector size", e.ErrDimensionMismatch)))
	}
	return nil
}
