package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gifBytes = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\xff\xff\xff\x00\x00\x00!\xf9\x04\x00\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func TestImageRepo(t *testing.T) {
	repo, err := NewImageRepo(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := repo.Upload(ctx, domain.NewImage("shoes/boots/b1.gif", gifBytes, "image/gif"))
	require.NoError(t, err)
	assert.Equal(t, "shoes/boots/b1.gif", key)

	img, err := repo.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, gifBytes, img.Data)
	assert.Equal(t, "image/gif", img.ContentType)

	// занятый ключ не перезаписывается
	_, err = repo.Upload(ctx, domain.NewImage(key, []byte("GIF89a other"), "image/gif"))
	assert.ErrorIs(t, err, e.ErrImageExists)
	img, err = repo.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, gifBytes, img.Data)

	entries, err := os.ReadDir(filepath.Join(repo.root, "shoes", "boots"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, repo.Delete(ctx, key))
	require.NoError(t, repo.Delete(ctx, key))

	_, err = repo.Download(ctx, key)
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestImageRepoRejectsEscapes(t *testing.T) {
	repo, err := NewImageRepo(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../outside.gif", "a/../../outside.gif", ""} {
		_, err := repo.Upload(ctx, domain.NewImage(key, gifBytes, "image/gif"))
		assert.ErrorIs(t, err, e.ErrInvalidInput, key)
		_, err = repo.Download(ctx, key)
		assert.ErrorIs(t, err, e.ErrInvalidInput, key)
	}
}
