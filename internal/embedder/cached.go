package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/dgraph-io/ristretto/v2"
)

// Cached запоминает эмбеддинги по sha256 содержимого изображения.
// Повторный поиск тем же изображением не обращается к модели.
type Cached struct {
	next  Embedder
	cache *ristretto.Cache[string, []float32]
}

// NewCached оборачивает next кэшем на size записей.
func NewCached(next Embedder, size int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		// стоимость записи — 1, без учёта внутренних накладных расходов
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, e.Wrap("embedding cache", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Name() string   { return c.next.Name() }
func (c *Cached) Dimension() int { return c.next.Dimension() }

func (c *Cached) Embed(ctx context.Context, image []byte) ([]float32, error) {
	sum := sha256.Sum256(image)
	key := hex.EncodeToString(sum[:])

	if v, ok := c.cache.Get(key); ok {
		return append([]float32(nil), v...), nil
	}

	v, err := c.next.Embed(ctx, image)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]float32(nil), v...), 1)
	return v, nil
}

// Wait дожидается применения отложенных записей в кэш.
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() { c.cache.Close() }
