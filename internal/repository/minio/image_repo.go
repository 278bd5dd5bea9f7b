package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

// ImageRepo реализует репозиторий изображений поверх MinIO.
type ImageRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewImageRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *ImageRepo {
	return &ImageRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// Upload загружает изображение в MinIO и возвращает ключ объекта.
// Существующий объект не перезаписывается: e.ErrImageExists.
func (i *ImageRepo) Upload(ctx context.Context, image *domain.Image) (string, error) {
	_, err := i.mc.StatObject(ctx, i.cfg.BucketName, image.Key, minio.StatObjectOptions{})
	if err == nil {
		return "", e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: image_path %s", e.ErrImageExists, image.Key))
	}
	if !errors.Is(notFound(image.Key, err), e.ErrNotFound) {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	reader := bytes.NewReader(image.Data)

	info, err := i.mc.PutObject(ctx, i.cfg.BucketName, image.Key, reader, image.Size(), minio.PutObjectOptions{
		ContentType: image.ContentType,
	})
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return info.Key, nil
}

// Download читает объект целиком. Отсутствующий ключ — e.ErrNotFound.
func (i *ImageRepo) Download(ctx context.Context, key string) (*domain.Image, error) {
	obj, err := i.mc.GetObject(ctx, i.cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), notFound(key, err))
	}
	defer obj.Close()

	// Ошибка отсутствия объекта приходит только при первом чтении
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), notFound(key, err))
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), notFound(key, err))
	}

	return domain.NewImage(key, data, stat.ContentType), nil
}

// Delete удаляет объект из MinIO по указанному ключу.
func (i *ImageRepo) Delete(ctx context.Context, key string) error {
	if err := i.mc.RemoveObject(ctx, i.cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

func notFound(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: image %s", e.ErrNotFound, key)
	}
	return err
}
