package qdrant

import (
	"context"
	"testing"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPoints(t *testing.T) {
	points := toPoints([]domain.IndexedImage{
		{Record: *domain.NewRecord(7, "81a", "B01", "8a/81a.jpg"), Vector: []float32{0.6, 0.8}},
	})
	require.Len(t, points, 1)

	p := points[0]
	assert.Equal(t, uint64(7), p.GetId().GetNum())
	assert.Equal(t, "B01", p.GetPayload()["item_id"].GetStringValue())
	assert.Equal(t, int64(7), p.GetPayload()["position"].GetIntegerValue())
	assert.Equal(t, "8a/81a.jpg", p.GetPayload()["image_path"].GetStringValue())
}

func TestOnIndexedEmptyIsNoop(t *testing.T) {
	repo := NewMirrorRepo(nil, nil)
	assert.NoError(t, repo.OnIndexed(context.Background(), "cnn_faiss", nil))
}
