package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/DRSN-tech/visual-search/internal/embedder"
	"github.com/DRSN-tech/visual-search/internal/family"
	"github.com/DRSN-tech/visual-search/pkg/e"
)

// validateImage отклоняет пустые и не графические данные до любой работы с индексом.
func validateImage(data []byte) error {
	if len(data) == 0 {
		return e.ErrNoImages
	}
	if !embedder.IsImage(data) {
		return e.ErrNotAnImage
	}
	return nil
}

// embed извлекает вектор; любая ошибка экстрактора помечается как e.ErrEmbeddingExtraction.
func embed(ctx context.Context, f *family.Family, data []byte) ([]float32, error) {
	vec, err := f.Embedder().Embed(ctx, data)
	if err != nil {
		if errors.Is(err, e.ErrEmbeddingExtraction) {
			return nil, err
		}
		return nil, e.Mark(e.ErrEmbeddingExtraction, err)
	}
	return vec, nil
}

// cleanImagePath нормализует относительный путь изображения и запрещает выход за корень хранилища.
func cleanImagePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(p)
	if path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: image_path %q", e.ErrInvalidInput, p)
	}
	return cleaned, nil
}

// imageIDFromPath имя файла без расширения.
func imageIDFromPath(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

func uniqueItemIDs[T any](items []T, id func(T) string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		k := id(it)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
