package family

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DRSN-tech/visual-search/internal/snapshot"
	"github.com/DRSN-tech/visual-search/internal/vector"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Name() string   { return "fake" }
func (f fakeEmbedder) Dimension() int { return f.dim }
func (f fakeEmbedder) Embed(context.Context, []byte) ([]float32, error) {
	return nil, errors.New("not used")
}

// flakyStore оборачивает настоящий Store и падает на публикации, пока fail=true.
type flakyStore struct {
	*snapshot.Store
	fail      atomic.Bool
	published atomic.Int32
}

func (s *flakyStore) Publish(ctx context.Context, m snapshot.Manifest, v, r io.WriterTo) (snapshot.Manifest, error) {
	if s.fail.Load() {
		return snapshot.Manifest{}, errors.New("disk full")
	}
	s.published.Add(1)
	return s.Store.Publish(ctx, m, v, r)
}

func newStore(t *testing.T, dir string) *flakyStore {
	t.Helper()
	st, err := snapshot.NewStore(dir, 2, logger.NewNopLogger())
	require.NoError(t, err)
	return &flakyStore{Store: st}
}

func newFamily(t *testing.T, dim int, store SnapshotStore) *Family {
	t.Helper()
	f, err := New("cnn_faiss", fakeEmbedder{dim: dim}, store, logger.NewNopLogger())
	require.NoError(t, err)
	return f
}

func unit(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return vector.Normalize(v)
}

func entry(rng *rand.Rand, dim, i int) Entry {
	return Entry{
		Vector:    unit(rng, dim),
		ImageID:   fmt.Sprintf("img-%d", i),
		ItemID:    fmt.Sprintf("item-%d", i/3),
		ImagePath: fmt.Sprintf("shoes/img-%d.jpg", i),
	}
}

func TestAppendAssignsContiguousPositions(t *testing.T) {
	f := newFamily(t, 8, newStore(t, t.TempDir()))
	rng := rand.New(rand.NewPCG(1, 1))

	var batch []Entry
	for i := 0; i < 10; i++ {
		batch = append(batch, entry(rng, 8, i))
	}
	added, err := f.Append(batch)
	require.NoError(t, err)
	require.Len(t, added, 10)

	for i, a := range added {
		assert.Equal(t, i, a.Record.Position)
		rec, err := f.Record(i)
		require.NoError(t, err)
		assert.Equal(t, batch[i].ImageID, rec.ImageID)
	}
	assert.Len(t, f.RecordsByItem("item-0"), 3)
}

func TestAppendRejectsWholeBatchOnDimensionMismatch(t *testing.T) {
	f := newFamily(t, 4, newStore(t, t.TempDir()))
	rng := rand.New(rand.NewPCG(2, 2))

	bad := entry(rng, 3, 1)
	_, err := f.Append([]Entry{entry(rng, 4, 0), bad})
	assert.ErrorIs(t, err, e.ErrDimensionMismatch)
	assert.Equal(t, 0, f.Size())
}

func TestSelfQueryRanksFirst(t *testing.T) {
	f := newFamily(t, 64, newStore(t, t.TempDir()))
	rng := rand.New(rand.NewPCG(3, 3))

	var batch []Entry
	for i := 0; i < 50; i++ {
		batch = append(batch, entry(rng, 64, i))
	}
	_, err := f.Append(batch)
	require.NoError(t, err)

	hits, err := f.Search(batch[17].Vector, 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	assert.Equal(t, "img-17", hits[0].ImageID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestSearchEmptyFamily(t *testing.T) {
	f := newFamily(t, 4, newStore(t, t.TempDir()))

	hits, err := f.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAppendDurableRollsBackOnPersistenceFailure(t *testing.T) {
	store := newStore(t, t.TempDir())
	f := newFamily(t, 8, store)
	rng := rand.New(rand.NewPCG(4, 4))
	ctx := context.Background()

	first, err := f.AppendDurable(ctx, entry(rng, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Record.Position)

	store.fail.Store(true)
	_, err = f.AppendDurable(ctx, entry(rng, 8, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrPersistence)
	assert.Equal(t, 1, f.Size())
	_, err = f.RecordByImage("img-1")
	assert.ErrorIs(t, err, e.ErrNotFound)

	store.fail.Store(false)
	next, err := f.AppendDurable(ctx, entry(rng, 8, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, next.Record.Position)
}

func TestAppendDurableRejectsTakenImage(t *testing.T) {
	f := newFamily(t, 8, newStore(t, t.TempDir()))
	rng := rand.New(rand.NewPCG(5, 5))
	ctx := context.Background()

	_, err := f.AppendDurable(ctx, entry(rng, 8, 0))
	require.NoError(t, err)

	sameID := entry(rng, 8, 1)
	sameID.ImageID = "img-0"
	_, err = f.AppendDurable(ctx, sameID)
	assert.ErrorIs(t, err, e.ErrImageExists)

	samePath := entry(rng, 8, 2)
	samePath.ImagePath = "shoes/img-0.jpg"
	_, err = f.AppendDurable(ctx, samePath)
	assert.ErrorIs(t, err, e.ErrImageExists)

	assert.Equal(t, 1, f.Size())
	rec, err := f.RecordByPath("shoes/img-0.jpg")
	require.NoError(t, err)
	assert.Equal(t, "img-0", rec.ImageID)
}

func TestConcurrentDurableAppendsSameImage(t *testing.T) {
	f := newFamily(t, 8, newStore(t, t.TempDir()))
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		okCount atomic.Int32
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			en := entry(rand.New(rand.NewPCG(uint64(w), 1)), 8, 0)
			_, err := f.AppendDurable(ctx, en)
			if err == nil {
				okCount.Add(1)
				return
			}
			assert.ErrorIs(t, err, e.ErrImageExists)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(1), okCount.Load())
	assert.Equal(t, 1, f.Size())
}

func TestRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := newFamily(t, 16, newStore(t, dir))
	rng := rand.New(rand.NewPCG(5, 5))
	ctx := context.Background()

	var batch []Entry
	for i := 0; i < 40; i++ {
		batch = append(batch, entry(rng, 16, i))
	}
	_, err := f.Append(batch)
	require.NoError(t, err)
	_, err = f.Checkpoint(ctx, 45)
	require.NoError(t, err)

	restored := newFamily(t, 16, newStore(t, dir))
	m, err := restored.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, m.Count)
	assert.Equal(t, 45, restored.Cursor())
	assert.Equal(t, 40, restored.Size())

	for i := 0; i < 10; i++ {
		q := unit(rng, 16)
		want, err := f.Search(q, 7)
		require.NoError(t, err)
		got, err := restored.Search(q, 7)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRecoverWithoutSnapshot(t *testing.T) {
	f := newFamily(t, 4, newStore(t, t.TempDir()))

	m, err := f.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, m.Generation)
	assert.Equal(t, 0, f.Size())
}

func TestRecoverMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	f := newFamily(t, 4, newStore(t, dir))
	rng := rand.New(rand.NewPCG(6, 6))
	ctx := context.Background()

	_, err := f.AppendDurable(ctx, entry(rng, 4, 0))
	require.NoError(t, err)

	gens, err := filepath.Glob(filepath.Join(dir, "gen-*", snapshot.VectorsFile))
	require.NoError(t, err)
	require.Len(t, gens, 1)
	require.NoError(t, os.Remove(gens[0]))

	_, err = newFamily(t, 4, newStore(t, dir)).Recover(ctx)
	assert.ErrorIs(t, err, e.ErrInconsistentSnapshot)
}

// mismatchedStore отдаёт снимок, в котором векторов больше, чем записей.
type mismatchedStore struct {
	vectors, records []byte
	count            int
}

func (m mismatchedStore) Publish(context.Context, snapshot.Manifest, io.WriterTo, io.WriterTo) (snapshot.Manifest, error) {
	return snapshot.Manifest{}, errors.New("read only")
}

func (m mismatchedStore) Latest(context.Context) (snapshot.Manifest, bool, error) {
	return snapshot.Manifest{Generation: 1, Count: m.count}, true, nil
}

func (m mismatchedStore) Open(context.Context, snapshot.Manifest) (io.ReadCloser, io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.vectors)), io.NopCloser(bytes.NewReader(m.records)), nil
}

func TestRecoverSizeMismatch(t *testing.T) {
	idx, err := vector.NewFlat(2)
	require.NoError(t, err)
	_, err = idx.Insert([]float32{1, 0})
	require.NoError(t, err)
	_, err = idx.Insert([]float32{0, 1})
	require.NoError(t, err)

	var vbuf bytes.Buffer
	require.NoError(t, idx.Save(&vbuf))
	records := []byte(`[{"position":0,"image_id":"a","item_id":"x","image_path":"a.jpg"}]`)

	f := newFamily(t, 2, mismatchedStore{vectors: vbuf.Bytes(), records: records, count: 2})
	_, err = f.Recover(context.Background())
	assert.ErrorIs(t, err, e.ErrInconsistentSnapshot)
	assert.Equal(t, 0, f.Size())
}

func TestResetClearsState(t *testing.T) {
	f := newFamily(t, 4, newStore(t, t.TempDir()))
	rng := rand.New(rand.NewPCG(7, 7))

	_, err := f.Append([]Entry{entry(rng, 4, 0)})
	require.NoError(t, err)
	f.Reset()
	assert.Equal(t, 0, f.Size())
	assert.Equal(t, 0, f.Cursor())
}

func TestConcurrentDurableAppends(t *testing.T) {
	const (
		writers = 8
		perW    = 10
		dim     = 16
	)
	store := newStore(t, t.TempDir())
	f := newFamily(t, dim, store)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions []int
	)
	stop := make(chan struct{})

	// читатели всё время видят согласованные пары
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, seed))
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := f.Search(unit(rng, dim), 3)
				assert.NoError(t, err)
				for _, h := range hits {
					assert.Equal(t, fmt.Sprintf("shoes/%s.jpg", h.ImageID), h.ImagePath)
				}
			}
		}(uint64(100 + r))
	}

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(w int) {
			defer writersWG.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 0))
			for i := 0; i < perW; i++ {
				added, err := f.AppendDurable(ctx, entry(rng, dim, w*perW+i))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				positions = append(positions, added.Record.Position)
				mu.Unlock()
			}
		}(w)
	}
	writersWG.Wait()
	close(stop)
	wg.Wait()

	sort.Ints(positions)
	require.Len(t, positions, writers*perW)
	for i, p := range positions {
		assert.Equal(t, i, p)
	}
	assert.Equal(t, writers*perW, f.Size())
	assert.Equal(t, int32(writers*perW), store.published.Load())

	restored := newFamily(t, dim, newStore(t, store.Dir()))
	_, err := restored.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers*perW, restored.Size())
}
