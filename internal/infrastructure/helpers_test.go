package infrastructure

import (
	"testing"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExtensionFromMIME(t *testing.T) {
	for mime, want := range map[string]string{
		"image/jpeg": "jpg",
		"image/jpg":  "jpg",
		"image/png":  "png",
		"image/gif":  "gif",
		"image/webp": "webp",
	} {
		got, err := GetExtensionFromMIME(mime)
		require.NoError(t, err, mime)
		assert.Equal(t, want, got, mime)
	}

	_, err := GetExtensionFromMIME("application/pdf")
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}
