package domain

// Image описывает изображение, которое сохраняется в хранилище изображений
type Image struct {
	// Key относительный путь в хранилище, он же image_path в метаданных
	Key         string
	Data        []byte
	ContentType string
}

func NewImage(key string, data []byte, contentType string) *Image {
	return &Image{
		Key:         key,
		Data:        data,
		ContentType: contentType,
	}
}

func (i *Image) Size() int64 {
	return int64(len(i.Data))
}
