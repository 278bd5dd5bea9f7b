package domain

// Record описывает метаданные одного проиндексированного изображения.
// Position совпадает с позицией вектора в индексе того же семейства.
type Record struct {
	Position  int    `json:"position"`
	ImageID   string `json:"image_id"`
	ItemID    string `json:"item_id"`
	ImagePath string `json:"image_path"`
}

func NewRecord(position int, imageID, itemID, imagePath string) *Record {
	return &Record{
		Position:  position,
		ImageID:   imageID,
		ItemID:    itemID,
		ImagePath: imagePath,
	}
}

// CorpusEntry элемент входного списка для построения индекса (IMAGE_PATHS).
type CorpusEntry struct {
	ImageID   string `json:"image_id"`
	ItemID    string `json:"item_id"`
	ImagePath string `json:"image_path"`
}

// IndexedImage зафиксированная в индексе пара «вектор + метаданные».
// Передаётся подписчикам после коммита.
type IndexedImage struct {
	Record Record
	Vector []float32
}
