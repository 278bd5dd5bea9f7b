package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/DRSN-tech/visual-search/pkg/e"
)

// Hybrid склеивает эмбеддинг базовой модели с гистограммой визуальных слов.
// Части масштабируются на sqrt(1-weight) и sqrt(weight), поэтому результат остаётся единичным.
type Hybrid struct {
	base      Embedder
	histogram Embedder
	weight    float64
}

// NewHybrid создаёт гибридный экстрактор. weight — доля гистограммы в (0, 1).
func NewHybrid(base, histogram Embedder, weight float64) (*Hybrid, error) {
	if weight <= 0 || weight >= 1 {
		return nil, fmt.Errorf("%w: hybrid weight must be in (0,1), got %v", e.ErrInvalidArgument, weight)
	}
	return &Hybrid{base: base, histogram: histogram, weight: weight}, nil
}

func (h *Hybrid) Name() string {
	return fmt.Sprintf("hybrid(%s+%s)", h.base.Name(), h.histogram.Name())
}

func (h *Hybrid) Dimension() int {
	return h.base.Dimension() + h.histogram.Dimension()
}

func (h *Hybrid) Embed(ctx context.Context, image []byte) ([]float32, error) {
	const op = "Hybrid.Embed"

	baseVec, err := h.base.Embed(ctx, image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if err := checkDimension(h.base.Name(), h.base.Dimension(), baseVec); err != nil {
		return nil, err
	}
	histVec, err := h.histogram.Embed(ctx, image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	wb, wh := float32(math.Sqrt(1-h.weight)), float32(math.Sqrt(h.weight))
	out := make([]float32, 0, len(baseVec)+len(histVec))
	for _, x := range baseVec {
		out = append(out, x*wb)
	}
	for _, x := range histVec {
		out = append(out, x*wh)
	}
	return out, nil
}
