package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/internal/snapshot"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImageUC(t *testing.T) (*ImageUseCase, *family.Family, *memImages, *recordingListener) {
	t.Helper()
	r, f := newRegistry(t, t.TempDir(), histogram(t))
	images := newMemImages()
	listener := &recordingListener{}
	return NewImageUC(r, images, images, listener, logger.NewNopLogger()), f, images, listener
}

func TestAddImage(t *testing.T) {
	uc, f, images, listener := newImageUC(t)
	ctx := context.Background()

	res, err := uc.AddImage(ctx, &AddImageReq{Image: colorPNG(t, 5), ItemID: " item-9 "})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, "item-9", res.ItemID)
	assert.Equal(t, res.ImageID+".png", res.ImagePath)
	assert.True(t, images.has(res.ImagePath))
	assert.Equal(t, 1, listener.count())

	rec, err := f.RecordByImage(res.ImageID)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Position)

	// добавленное изображение сразу находится поиском по самому себе
	search := NewSearchUC(mustRegistry(t, f), nil, 5, 100, logger.NewNopLogger())
	found, err := search.Search(ctx, &SearchReq{Image: colorPNG(t, 5), TopK: 1})
	require.NoError(t, err)
	require.Len(t, found.Results, 1)
	assert.Equal(t, res.ImageID, found.Results[0].ImageID)
	assert.InDelta(t, 1.0, found.Results[0].Score, 1e-5)
}

func TestAddImageExplicitPath(t *testing.T) {
	uc, _, images, _ := newImageUC(t)

	res, err := uc.AddImage(context.Background(), &AddImageReq{
		Image:     colorPNG(t, 7),
		ItemID:    "item-1",
		ImagePath: "shoes/./boots/B07XYZ.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "B07XYZ", res.ImageID)
	assert.Equal(t, "shoes/boots/B07XYZ.jpg", res.ImagePath)
	assert.True(t, images.has("shoes/boots/B07XYZ.jpg"))

	res, err = uc.AddImage(context.Background(), &AddImageReq{
		Image:   colorPNG(t, 8),
		ItemID:  "item-1",
		ImageID: "custom",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom", res.ImageID)
	assert.Equal(t, 1, res.Position)
}

func TestAddImageValidation(t *testing.T) {
	tests := []struct {
		name string
		req  *AddImageReq
		want error
	}{
		{"missing item_id", &AddImageReq{Image: colorPNG(t, 1)}, e.ErrMissingFields},
		{"not an image", &AddImageReq{Image: []byte("GIF? no, plain text"), ItemID: "x"}, e.ErrNotAnImage},
		{"path escapes root", &AddImageReq{Image: colorPNG(t, 1), ItemID: "x", ImagePath: "../etc/passwd"}, e.ErrInvalidInput},
		{"absolute path", &AddImageReq{Image: colorPNG(t, 1), ItemID: "x", ImagePath: "/tmp/a.png"}, e.ErrInvalidInput},
		{"unknown method", &AddImageReq{Image: colorPNG(t, 1), ItemID: "x", Method: "sift"}, e.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, f, _, _ := newImageUC(t)
			_, err := uc.AddImage(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.Size())
		})
	}
}

func TestAddImageDuplicateID(t *testing.T) {
	uc, f, _, _ := newImageUC(t)
	ctx := context.Background()

	_, err := uc.AddImage(ctx, &AddImageReq{Image: colorPNG(t, 1), ItemID: "x", ImageID: "dup"})
	require.NoError(t, err)
	_, err = uc.AddImage(ctx, &AddImageReq{Image: colorPNG(t, 2), ItemID: "x", ImageID: "dup"})
	assert.ErrorIs(t, err, e.ErrImageExists)
	assert.Equal(t, 1, f.Size())
}

func TestAddImageTakenPath(t *testing.T) {
	uc, f, images, _ := newImageUC(t)
	ctx := context.Background()
	first := colorPNG(t, 1)

	res, err := uc.AddImage(ctx, &AddImageReq{Image: first, ItemID: "item-1", ImagePath: "shoes/a.png"})
	require.NoError(t, err)
	require.Equal(t, "a", res.ImageID)

	_, err = uc.AddImage(ctx, &AddImageReq{Image: colorPNG(t, 2), ItemID: "item-2", ImageID: "b", ImagePath: "shoes/a.png"})
	assert.ErrorIs(t, err, e.ErrImageExists)
	assert.Equal(t, 1, f.Size())
	assert.Equal(t, first, images.data("shoes/a.png"))
	assert.Empty(t, images.cleaned)
}

func TestAddImageForeignFileIsNotOverwritten(t *testing.T) {
	uc, f, images, _ := newImageUC(t)
	ctx := context.Background()
	foreign := colorPNG(t, 9)
	images.put("shoes/other.png", foreign)

	_, err := uc.AddImage(ctx, &AddImageReq{Image: colorPNG(t, 3), ItemID: "x", ImagePath: "shoes/other.png"})
	assert.ErrorIs(t, err, e.ErrImageExists)
	assert.Equal(t, 0, f.Size())
	assert.Equal(t, foreign, images.data("shoes/other.png"))
}

func TestAddImageSharedFileSurvivesRollback(t *testing.T) {
	st, err := snapshot.NewStore(t.TempDir(), 2, logger.NewNopLogger())
	require.NoError(t, err)
	store := &brokenStore{Store: st, broken: true}
	f, err := family.New(testMethod, histogram(t), store, logger.NewNopLogger())
	require.NoError(t, err)
	images := newMemImages()
	uc := NewImageUC(mustRegistry(t, f), images, images, nil, logger.NewNopLogger())

	// тот же файл уже сохранён для другого метода
	shared := colorPNG(t, 4)
	images.put("shoes/shared.png", shared)

	_, err = uc.AddImage(context.Background(), &AddImageReq{Image: shared, ItemID: "x", ImagePath: "shoes/shared.png"})
	assert.ErrorIs(t, err, e.ErrPersistence)
	assert.Empty(t, images.cleaned)
	assert.Equal(t, shared, images.data("shoes/shared.png"))

	store.mu.Lock()
	store.broken = false
	store.mu.Unlock()

	res, err := uc.AddImage(context.Background(), &AddImageReq{Image: shared, ItemID: "x", ImagePath: "shoes/shared.png"})
	require.NoError(t, err)
	assert.Equal(t, "shoes/shared.png", res.ImagePath)
}

func TestAddImageExtractionFailureChangesNothing(t *testing.T) {
	emb := &failingEmbedder{dim: 8}
	r, f := newRegistry(t, t.TempDir(), emb)
	images := newMemImages()
	uc := NewImageUC(r, images, images, nil, logger.NewNopLogger())

	_, err := uc.AddImage(context.Background(), &AddImageReq{Image: colorPNG(t, 1), ItemID: "x"})
	assert.Equal(t, e.KindEmbeddingExtraction, e.KindOf(err))
	assert.Equal(t, 0, f.Size())
	assert.Empty(t, images.objects)
}

func TestAddImageUploadFailure(t *testing.T) {
	uc, f, images, _ := newImageUC(t)
	images.failUp = true

	_, err := uc.AddImage(context.Background(), &AddImageReq{Image: colorPNG(t, 1), ItemID: "x"})
	assert.ErrorIs(t, err, e.ErrPersistence)
	assert.Equal(t, 0, f.Size())
}

// brokenStore публикует снимки, пока не сломается.
type brokenStore struct {
	*snapshot.Store
	mu     sync.Mutex
	broken bool
}

func (b *brokenStore) Publish(ctx context.Context, m snapshot.Manifest, v, r io.WriterTo) (snapshot.Manifest, error) {
	b.mu.Lock()
	broken := b.broken
	b.mu.Unlock()
	if broken {
		return snapshot.Manifest{}, errors.New("read-only file system")
	}
	return b.Store.Publish(ctx, m, v, r)
}

func TestAddImagePersistenceFailureRollsBack(t *testing.T) {
	st, err := snapshot.NewStore(t.TempDir(), 2, logger.NewNopLogger())
	require.NoError(t, err)
	store := &brokenStore{Store: st}
	f, err := family.New(testMethod, histogram(t), store, logger.NewNopLogger())
	require.NoError(t, err)
	images := newMemImages()
	uc := NewImageUC(mustRegistry(t, f), images, images, nil, logger.NewNopLogger())
	ctx := context.Background()

	_, err = uc.AddImage(ctx, &AddImageReq{Image: colorPNG(t, 1), ItemID: "x", ImageID: "first"})
	require.NoError(t, err)

	store.mu.Lock()
	store.broken = true
	store.mu.Unlock()

	_, err = uc.AddImage(ctx, &AddImageReq{Image: colorPNG(t, 2), ItemID: "x", ImageID: "second"})
	require.Error(t, err)
	assert.Equal(t, e.KindPersistence, e.KindOf(err))
	assert.Equal(t, 1, f.Size())
	assert.Equal(t, []string{"second.png"}, images.cleaned)
	_, err = f.RecordByImage("second")
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestGetImage(t *testing.T) {
	uc, _, images, _ := newImageUC(t)
	images.put("shoes/a.png", colorPNG(t, 1))

	img, err := uc.GetImage(context.Background(), "shoes/a.png")
	require.NoError(t, err)
	assert.Equal(t, "shoes/a.png", img.Key)

	_, err = uc.GetImage(context.Background(), "../secret")
	assert.ErrorIs(t, err, e.ErrInvalidInput)

	_, err = uc.GetImage(context.Background(), "missing.png")
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func mustRegistry(t *testing.T, f *family.Family) *family.Registry {
	t.Helper()
	r, err := family.NewRegistry(f.Method(), f)
	require.NoError(t, err)
	return r
}
