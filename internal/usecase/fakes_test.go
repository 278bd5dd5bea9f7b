package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path"
	"sync"
	"testing"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/embedder"
	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/internal/snapshot"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/stretchr/testify/require"
)

const testMethod = "color"

// colorPNG рисует однотонное изображение; при 4 уровнях на канал цвета 0..63 дают разные слова гистограммы.
func colorPNG(t *testing.T, i int) []byte {
	t.Helper()
	c := color.RGBA{R: uint8(i/16%4) * 85, G: uint8(i/4%4) * 85, B: uint8(i%4) * 85, A: 255}
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newRegistry(t *testing.T, dir string, emb embedder.Embedder) (*family.Registry, *family.Family) {
	t.Helper()
	st, err := snapshot.NewStore(dir, 2, logger.NewNopLogger())
	require.NoError(t, err)
	f, err := family.New(testMethod, emb, st, logger.NewNopLogger())
	require.NoError(t, err)
	r, err := family.NewRegistry(testMethod, f)
	require.NoError(t, err)
	return r, f
}

func histogram(t *testing.T) embedder.Embedder {
	t.Helper()
	h, err := embedder.NewHistogram(4)
	require.NoError(t, err)
	return h
}

// failingEmbedder отказывает на каждом вызове и считает вызовы.
type failingEmbedder struct {
	dim   int
	mu    sync.Mutex
	calls int
}

func (f *failingEmbedder) Name() string   { return "failing" }
func (f *failingEmbedder) Dimension() int { return f.dim }
func (f *failingEmbedder) Embed(context.Context, []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, errors.New("model crashed")
}

// memImages хранит изображения в памяти и служит одновременно репозиторием и инфраструктурой.
type memImages struct {
	mu      sync.Mutex
	objects map[string]*domain.Image
	cleaned []string
	failUp  bool
}

func newMemImages() *memImages {
	return &memImages{objects: make(map[string]*domain.Image)}
}

func (m *memImages) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = domain.NewImage(key, data, "image/png")
}

func (m *memImages) Upload(_ context.Context, image *domain.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUp {
		return "", errors.New("bucket unavailable")
	}
	if _, ok := m.objects[image.Key]; ok {
		return "", fmt.Errorf("%w: %s", e.ErrImageExists, image.Key)
	}
	m.objects[image.Key] = image
	return image.Key, nil
}

func (m *memImages) UploadImage(ctx context.Context, image *domain.Image) (string, error) {
	if path.Ext(image.Key) == "" {
		image.Key += ".png"
	}
	key, err := m.Upload(ctx, image)
	if errors.Is(err, e.ErrImageExists) {
		return image.Key, err
	}
	return key, err
}

func (m *memImages) Download(_ context.Context, key string) (*domain.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", e.ErrNotFound, key)
	}
	return img, nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memImages) CleanupImages(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
		m.cleaned = append(m.cleaned, k)
	}
}

func (m *memImages) data(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img, ok := m.objects[key]; ok {
		return img.Data
	}
	return nil
}

func (m *memImages) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// recordingListener запоминает все уведомления.
type recordingListener struct {
	mu     sync.Mutex
	images []domain.IndexedImage
	err    error
}

func (l *recordingListener) OnIndexed(_ context.Context, _ string, images []domain.IndexedImage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images = append(l.images, images...)
	return l.err
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.images)
}

type staticCorpus []domain.CorpusEntry

func (c staticCorpus) Load(context.Context) ([]domain.CorpusEntry, error) { return c, nil }

type fakeCatalogRepo struct {
	mu       sync.Mutex
	items    map[string]domain.CatalogItem
	calls    [][]string
	failGet  error
	upserted int
}

func newFakeCatalogRepo(items ...domain.CatalogItem) *fakeCatalogRepo {
	r := &fakeCatalogRepo{items: make(map[string]domain.CatalogItem)}
	for _, it := range items {
		r.items[it.ItemID] = it
	}
	return r
}

func (r *fakeCatalogRepo) GetItems(_ context.Context, ids []string) ([]domain.CatalogItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ids)
	if r.failGet != nil {
		return nil, r.failGet
	}
	var out []domain.CatalogItem
	for _, id := range ids {
		if it, ok := r.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *fakeCatalogRepo) UpsertItems(ctx context.Context, items []domain.CatalogItem) (int, error) {
	if _, ok := ctx.Value(txMarker{}).(bool); !ok {
		return 0, e.ErrTransactionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		r.items[it.ItemID] = it
	}
	r.upserted += len(items)
	return len(items), nil
}

type fakeCache struct {
	mu      sync.Mutex
	items   map[string]domain.CatalogItem
	set     chan []domain.CatalogItem
	deleted []string
	fail    error
}

func newFakeCache(items ...domain.CatalogItem) *fakeCache {
	c := &fakeCache{items: make(map[string]domain.CatalogItem), set: make(chan []domain.CatalogItem, 8)}
	for _, it := range items {
		c.items[it.ItemID] = it
	}
	return c
}

func (c *fakeCache) GetItems(_ context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	out := make(map[string]domain.CatalogItem)
	for _, id := range ids {
		if it, ok := c.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (c *fakeCache) SetItems(_ context.Context, items []domain.CatalogItem) error {
	c.set <- items
	return nil
}

func (c *fakeCache) DeleteItems(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, ids...)
	return nil
}

type txMarker struct{}

// fakeTransactor помечает контекст и откатывает «транзакцию» при ошибке fn.
type fakeTransactor struct {
	committed, rolledBack int
}

func (f *fakeTransactor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		f.rolledBack++
		return err
	}
	f.committed++
	return nil
}

type staticSource []domain.CatalogItem

func (s staticSource) Load(context.Context) ([]domain.CatalogItem, error) { return s, nil }
