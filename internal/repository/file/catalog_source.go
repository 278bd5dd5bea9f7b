package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
)

// CatalogSource читает файл каталога товаров (результат фильтрации листингов).
type CatalogSource struct {
	path string
}

func NewCatalogSource(path string) *CatalogSource {
	return &CatalogSource{path: path}
}

// productJSON товар в исходном файле. item_name бывает строкой
// или списком локализованных значений, как в листингах.
type productJSON struct {
	ItemID       string          `json:"item_id"`
	ProductType  []string        `json:"product_type"`
	ItemName     json.RawMessage `json:"item_name"`
	MainImageID  string          `json:"main_image_id"`
	OtherImageID []string        `json:"other_image_id"`
}

type localizedValue struct {
	LanguageTag string `json:"language_tag"`
	Value       string `json:"value"`
}

func (c *CatalogSource) Load(ctx context.Context) ([]domain.CatalogItem, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %s: %w", e.ErrInvalidInput, c.path, err))
	}

	items := make([]domain.CatalogItem, 0, len(products))
	for _, p := range products {
		name, err := itemName(p.ItemName)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: item %s: %w", e.ErrInvalidInput, p.ItemID, err))
		}
		items = append(items, *domain.NewCatalogItem(p.ItemID, name, p.MainImageID, p.ProductType, p.OtherImageID))
	}

	return items, ctx.Err()
}

// itemName выбирает английское название, если оно есть, иначе первое.
func itemName(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}

	var values []localizedValue
	if err := json.Unmarshal(raw, &values); err != nil {
		return "", err
	}
	for _, v := range values {
		if strings.HasPrefix(v.LanguageTag, "en") {
			return v.Value, nil
		}
	}
	if len(values) > 0 {
		return values[0].Value, nil
	}
	return "", nil
}
