// Package metadata хранит записи о проиндексированных изображениях в порядке позиций индекса.
package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
)

// Store упорядоченный по позиции список записей с поиском по item_id, image_id и image_path.
type Store struct {
	mu      sync.RWMutex
	records []domain.Record
	byItem  map[string][]int
	byImage map[string]int
	byPath  map[string]int
}

func NewStore() *Store {
	return &Store{
		byItem:  make(map[string][]int),
		byImage: make(map[string]int),
		byPath:  make(map[string]int),
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Append добавляет запись. rec.Position должен быть равен текущей длине.
func (s *Store) Append(rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

func (s *Store) appendLocked(rec domain.Record) error {
	if rec.Position != len(s.records) {
		return fmt.Errorf("%w: got position %d, expected %d", e.ErrPositionConflict, rec.Position, len(s.records))
	}

	s.records = append(s.records, rec)
	s.byItem[rec.ItemID] = append(s.byItem[rec.ItemID], rec.Position)
	if _, ok := s.byImage[rec.ImageID]; !ok {
		s.byImage[rec.ImageID] = rec.Position
	}
	if _, ok := s.byPath[rec.ImagePath]; !ok && rec.ImagePath != "" {
		s.byPath[rec.ImagePath] = rec.Position
	}
	return nil
}

func (s *Store) GetByPosition(pos int) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pos < 0 || pos >= len(s.records) {
		return domain.Record{}, fmt.Errorf("%w: position %d", e.ErrNotFound, pos)
	}
	return s.records[pos], nil
}

// GetByItemID возвращает все записи товара в порядке вставки. Пустой результат не ошибка.
func (s *Store) GetByItemID(itemID string) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := s.byItem[itemID]
	out := make([]domain.Record, 0, len(positions))
	for _, p := range positions {
		out = append(out, s.records[p])
	}
	return out
}

// GetByImageID возвращает первую запись с данным image_id.
func (s *Store) GetByImageID(imageID string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byImage[imageID]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: image %q", e.ErrNotFound, imageID)
	}
	return s.records[pos], nil
}

// GetByImagePath возвращает первую запись, ссылающуюся на файл imagePath.
func (s *Store) GetByImagePath(imagePath string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byPath[imagePath]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: image path %q", e.ErrNotFound, imagePath)
	}
	return s.records[pos], nil
}

// Truncate удаляет записи с позиции n. Используется только для отката.
func (s *Store) Truncate(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || n > len(s.records) {
		return fmt.Errorf("%w: truncate to %d, len %d", e.ErrInvalidArgument, n, len(s.records))
	}

	for i := len(s.records) - 1; i >= n; i-- {
		rec := s.records[i]
		if positions := s.byItem[rec.ItemID]; len(positions) > 1 {
			s.byItem[rec.ItemID] = positions[:len(positions)-1]
		} else {
			delete(s.byItem, rec.ItemID)
		}
		if s.byImage[rec.ImageID] == i {
			delete(s.byImage, rec.ImageID)
		}
		if pos, ok := s.byPath[rec.ImagePath]; ok && pos == i {
			delete(s.byPath, rec.ImagePath)
		}
	}
	s.records = s.records[:n]
	return nil
}

// View неизменяемый срез записей на момент вызова.
type View struct {
	records []domain.Record
}

func (s *Store) View() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &View{records: s.records[:len(s.records):len(s.records)]}
}

func (v *View) Len() int { return len(v.records) }

// WriteTo пишет записи JSON-массивом.
func (v *View) WriteTo(w io.Writer) (int64, error) {
	data, err := json.MarshalIndent(v.records, "", "  ")
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Save записывает записи в w.
func (s *Store) Save(w io.Writer) error {
	_, err := s.View().WriteTo(w)
	return err
}

type storedRecord struct {
	Position  *int   `json:"position,omitempty"`
	ImageID   string `json:"image_id"`
	ItemID    string `json:"item_id"`
	ImagePath string `json:"image_path"`
}

// Load заменяет содержимое хранилища записями из r. Записи без position
// получают позицию по порядку, явные позиции должны идти подряд с нуля.
func (s *Store) Load(r io.Reader) error {
	var stored []storedRecord
	if err := json.NewDecoder(r).Decode(&stored); err != nil {
		return fmt.Errorf("%w: metadata: %w", e.ErrInconsistentSnapshot, err)
	}

	fresh := NewStore()
	for i, sr := range stored {
		pos := i
		if sr.Position != nil {
			pos = *sr.Position
		}
		if err := fresh.appendLocked(*domain.NewRecord(pos, sr.ImageID, sr.ItemID, sr.ImagePath)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.records, s.byItem, s.byImage, s.byPath = fresh.records, fresh.byItem, fresh.byImage, fresh.byPath
	s.mu.Unlock()
	return nil
}
