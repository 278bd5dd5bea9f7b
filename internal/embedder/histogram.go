package embedder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/DRSN-tech/visual-search/internal/vector"
	"github.com/DRSN-tech/visual-search/pkg/e"
)

// maxSamples ограничивает число пикселей, участвующих в гистограмме.
const maxSamples = 256 * 256

// Histogram строит гистограмму «визуальных слов» по фиксированному словарю:
// каждый канал RGB квантуется на bins уровней, словом считается тройка уровней.
type Histogram struct {
	bins int
}

// NewHistogram создаёт экстрактор с bins уровнями на канал (2..16).
func NewHistogram(bins int) (*Histogram, error) {
	if bins < 2 || bins > 16 {
		return nil, fmt.Errorf("%w: histogram bins must be in [2,16], got %d", e.ErrInvalidArgument, bins)
	}
	return &Histogram{bins: bins}, nil
}

func (h *Histogram) Name() string   { return fmt.Sprintf("histogram-%d", h.bins) }
func (h *Histogram) Dimension() int { return h.bins * h.bins * h.bins }

func (h *Histogram) Embed(ctx context.Context, data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, e.Mark(e.ErrEmbeddingExtraction, e.Wrap("decode image", err))
	}
	return h.embedImage(img)
}

func (h *Histogram) embedImage(img image.Image) ([]float32, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, e.Mark(e.ErrEmbeddingExtraction, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy()))
	}
	step := 1
	for (b.Dx()/step)*(b.Dy()/step) > maxSamples {
		step++
	}

	counts := make([]float64, h.Dimension())
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, _ := img.At(x, y).RGBA()
			counts[h.word(r, g, bl)]++
		}
	}

	out := make([]float32, len(counts))
	for i, c := range counts {
		// корень от частот (Hellinger) сглаживает доминирующий фон
		out[i] = float32(math.Sqrt(c))
	}
	return vector.Normalize(out), nil
}

func (h *Histogram) word(r, g, b uint32) int {
	q := func(c uint32) int { return int(c) * h.bins / 0x10000 }
	return (q(r)*h.bins+q(g))*h.bins + q(b)
}
