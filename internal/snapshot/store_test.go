package snapshot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type text string

func (t text) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, string(t))
	return int64(n), err
}

type failingWriter struct{}

func (failingWriter) WriteTo(io.Writer) (int64, error) {
	return 0, errors.New("disk full")
}

func newStore(t *testing.T, keep int) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "cnn_faiss"), keep, logger.NewNopLogger())
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, s *Store, m Manifest) (string, string) {
	t.Helper()
	vec, meta, err := s.Open(context.Background(), m)
	require.NoError(t, err)
	defer vec.Close()
	defer meta.Close()

	v, err := io.ReadAll(vec)
	require.NoError(t, err)
	md, err := io.ReadAll(meta)
	require.NoError(t, err)
	return string(v), string(md)
}

func TestLatestWithoutSnapshots(t *testing.T) {
	s := newStore(t, 2)

	_, ok, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishAndOpen(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	m, err := s.Publish(ctx, Manifest{Method: "cnn_faiss", Dimension: 4, Count: 1, Cursor: 1}, text("v1"), text("m1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Generation)
	assert.False(t, m.CreatedAt.IsZero())

	m2, err := s.Publish(ctx, Manifest{Method: "cnn_faiss", Dimension: 4, Count: 2, Cursor: 2}, text("v2"), text("m2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m2.Generation)

	latest, ok, err := s.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, latest.Count)
	assert.Equal(t, 2, latest.Cursor)

	v, md := readAll(t, s, latest)
	assert.Equal(t, "v2", v)
	assert.Equal(t, "m2", md)
}

func TestFailedPublishKeepsPreviousSnapshot(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	_, err := s.Publish(ctx, Manifest{Count: 1}, text("v1"), text("m1"))
	require.NoError(t, err)

	_, err = s.Publish(ctx, Manifest{Count: 2}, text("v2"), failingWriter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrPersistence)

	latest, ok, err := s.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest.Generation)

	v, md := readAll(t, s, latest)
	assert.Equal(t, "v1", v)
	assert.Equal(t, "m1", md)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, en := range entries {
		assert.False(t, strings.HasPrefix(en.Name(), tmpPrefix), "temp dir %s left behind", en.Name())
	}
}

func TestPublishCancelledContext(t *testing.T) {
	s := newStore(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Publish(ctx, Manifest{}, text("v"), text("m"))
	assert.ErrorIs(t, err, e.ErrPersistence)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenMissingArtifact(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	m, err := s.Publish(ctx, Manifest{Count: 1}, text("v"), text("m"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(s.genDir(m.Generation), MetadataFile)))

	_, _, err = s.Open(ctx, m)
	assert.ErrorIs(t, err, e.ErrInconsistentSnapshot)
}

func TestCorruptCurrent(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), currentFile), []byte("{"), 0o644))

	_, _, err := s.Latest(context.Background())
	assert.ErrorIs(t, err, e.ErrInconsistentSnapshot)
}

func TestPruneKeepsLastGenerations(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Publish(ctx, Manifest{Count: i}, text("v"), text("m"))
		require.NoError(t, err)
	}

	gens, err := s.generations()
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 4}, gens)
}
