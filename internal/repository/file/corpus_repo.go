package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
)

// CorpusRepo читает список изображений для построения индекса (IMAGE_PATHS):
// JSON-массив объектов {image_id, item_id, image_path}.
type CorpusRepo struct {
	path string
}

func NewCorpusRepo(path string) *CorpusRepo {
	return &CorpusRepo{path: path}
}

func (c *CorpusRepo) Load(ctx context.Context) ([]domain.CorpusEntry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	var entries []domain.CorpusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %s: %w", e.ErrInvalidInput, c.path, err))
	}

	return entries, ctx.Err()
}
