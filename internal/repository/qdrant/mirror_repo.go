package qdrant

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// Collections отдаёт имя коллекции Qdrant для метода поиска.
type Collections interface {
	CollectionName(method string) string
}

// MirrorRepo зеркалирует зафиксированные векторы в Qdrant для внешних потребителей.
// Идентификатор точки — позиция в индексе, поэтому повторная отправка идемпотентна.
type MirrorRepo struct {
	client      *qdrant.Client
	collections Collections
}

func NewMirrorRepo(client *qdrant.Client, collections Collections) *MirrorRepo {
	return &MirrorRepo{
		client:      client,
		collections: collections,
	}
}

// OnIndexed сохраняет или обновляет векторы в коллекции метода.
func (q *MirrorRepo) OnIndexed(ctx context.Context, method string, images []domain.IndexedImage) error {
	if len(images) == 0 {
		return nil
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collections.CollectionName(method),
		Points:         toPoints(images),
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

func toPoints(images []domain.IndexedImage) []*qdrant.PointStruct {
	points := make([]*qdrant.PointStruct, 0, len(images))
	for _, img := range images {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(img.Record.Position)),
			Vectors: qdrant.NewVectors(img.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"position":   int64(img.Record.Position),
				"image_id":   img.Record.ImageID,
				"item_id":    img.Record.ItemID,
				"image_path": img.Record.ImagePath,
			}),
		})
	}
	return points
}
