package usecase

import (
	"context"
	"testing"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	r, f := newRegistry(t, t.TempDir(), histogram(t))
	images := newMemImages()
	seedFamily(t, f, images, 16)
	// файл одного изображения потерян
	require.NoError(t, images.Delete(context.Background(), "img-3.png"))

	search := NewSearchUC(r, nil, 5, 100, logger.NewNopLogger())
	uc := NewEvaluateUC(r, search, images, logger.NewNopLogger())

	report, err := uc.Evaluate(context.Background(), &EvaluateReq{Samples: 100, TopK: 3, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, 16, report.Samples)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 15, report.Passed)
	assert.Zero(t, report.Failed)
	assert.InDelta(t, 1.0, report.PassRate, 1e-9)
}

func TestEvaluateEmptyIndex(t *testing.T) {
	r, _ := newRegistry(t, t.TempDir(), histogram(t))
	uc := NewEvaluateUC(r, NewSearchUC(r, nil, 5, 100, logger.NewNopLogger()), newMemImages(), logger.NewNopLogger())

	_, err := uc.Evaluate(context.Background(), &EvaluateReq{Samples: 10, TopK: 5})
	assert.ErrorIs(t, err, e.ErrNotFound)

	_, err = uc.Evaluate(context.Background(), &EvaluateReq{Samples: 0})
	assert.ErrorIs(t, err, e.ErrInvalidArgument)
}
