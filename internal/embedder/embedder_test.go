package embedder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/DRSN-tech/visual-search/internal/vector"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type countingEmbedder struct {
	dim   int
	calls atomic.Int32
}

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return c.dim }
func (c *countingEmbedder) Embed(_ context.Context, img []byte) ([]float32, error) {
	c.calls.Add(1)
	v := make([]float32, c.dim)
	v[len(img)%c.dim] = 1
	return v, nil
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage(solidPNG(t, color.White)))
	assert.False(t, IsImage([]byte("plain text, definitely not pixels")))
	assert.False(t, IsImage(nil))
}

func TestHistogram(t *testing.T) {
	h, err := NewHistogram(4)
	require.NoError(t, err)
	assert.Equal(t, 64, h.Dimension())

	ctx := context.Background()
	red, err := h.Embed(ctx, solidPNG(t, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	require.Len(t, red, 64)
	assert.InDelta(t, 1.0, vector.Norm(red), 1e-6)

	redAgain, err := h.Embed(ctx, solidPNG(t, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, red, redAgain)

	blue, err := h.Embed(ctx, solidPNG(t, color.RGBA{B: 255, A: 255}))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, vector.Dot(red, blue), 1e-6)
}

func TestHistogramRejectsGarbage(t *testing.T) {
	h, err := NewHistogram(4)
	require.NoError(t, err)

	_, err = h.Embed(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, e.ErrEmbeddingExtraction)
}

func TestHistogramRejectsEmptyImage(t *testing.T) {
	h, err := NewHistogram(4)
	require.NoError(t, err)

	for _, img := range []image.Image{
		image.NewRGBA(image.Rect(0, 0, 0, 0)),
		image.NewRGBA(image.Rect(0, 0, 16, 0)),
		image.NewRGBA(image.Rect(0, 0, 16, 16)).SubImage(image.Rect(4, 4, 4, 12)),
	} {
		vec, err := h.embedImage(img)
		assert.ErrorIs(t, err, e.ErrEmbeddingExtraction, img.Bounds())
		assert.Nil(t, vec)
	}

	vec, err := h.embedImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vector.Norm(vec), 1e-6)
}

func TestNewHistogramBounds(t *testing.T) {
	_, err := NewHistogram(1)
	assert.ErrorIs(t, err, e.ErrInvalidArgument)
	_, err = NewHistogram(17)
	assert.ErrorIs(t, err, e.ErrInvalidArgument)
}

func TestHybrid(t *testing.T) {
	hist, err := NewHistogram(2)
	require.NoError(t, err)
	base := &countingEmbedder{dim: 4}

	hy, err := NewHybrid(base, hist, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 12, hy.Dimension())
	assert.Equal(t, "hybrid(counting+histogram-2)", hy.Name())

	v, err := hy.Embed(context.Background(), solidPNG(t, color.White))
	require.NoError(t, err)
	require.Len(t, v, 12)
	assert.InDelta(t, 1.0, vector.Norm(v), 1e-6)
	assert.InDelta(t, 0.75, vector.Norm(v[:4])*vector.Norm(v[:4]), 1e-6)

	_, err = NewHybrid(base, hist, 1)
	assert.ErrorIs(t, err, e.ErrInvalidArgument)
}

func TestHybridRejectsWrongBaseDimension(t *testing.T) {
	hist, err := NewHistogram(2)
	require.NoError(t, err)
	hy, err := NewHybrid(&lyingEmbedder{}, hist, 0.5)
	require.NoError(t, err)

	_, err = hy.Embed(context.Background(), solidPNG(t, color.White))
	assert.ErrorIs(t, err, e.ErrEmbeddingExtraction)
}

type lyingEmbedder struct{}

func (lyingEmbedder) Name() string   { return "liar" }
func (lyingEmbedder) Dimension() int { return 8 }
func (lyingEmbedder) Embed(context.Context, []byte) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func TestCached(t *testing.T) {
	base := &countingEmbedder{dim: 8}
	c, err := NewCached(base, 100)
	require.NoError(t, err)
	defer c.Close()

	img := solidPNG(t, color.Black)
	first, err := c.Embed(context.Background(), img)
	require.NoError(t, err)
	c.Wait()

	second, err := c.Embed(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), base.calls.Load())
}
