// Package family связывает индекс векторов, хранилище метаданных, снимки и экстрактор
// одного метода поиска в единое целое с общей дисциплиной блокировок.
package family

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/embedder"
	"github.com/DRSN-tech/visual-search/internal/metadata"
	"github.com/DRSN-tech/visual-search/internal/metrics"
	"github.com/DRSN-tech/visual-search/internal/snapshot"
	"github.com/DRSN-tech/visual-search/internal/vector"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

// SnapshotStore хранилище снимков семейства.
type SnapshotStore interface {
	Publish(ctx context.Context, m snapshot.Manifest, vectors, records io.WriterTo) (snapshot.Manifest, error)
	Latest(ctx context.Context) (snapshot.Manifest, bool, error)
	Open(ctx context.Context, m snapshot.Manifest) (vectors, records io.ReadCloser, err error)
}

// Entry ещё не зафиксированная пара «вектор + описание изображения».
type Entry struct {
	Vector    []float32
	ImageID   string
	ItemID    string
	ImagePath string
}

// Family индекс одного метода поиска.
//
// writeMu сериализует всех писателей (онлайн-добавление, коммит батча, снимок, сброс)
// на всё время операции, включая запись на диск. mu защищает пару index/meta:
// писатели берут его эксклюзивно только на время добавления или отката, поиск держит
// его на чтение на всё время сканирования. Поэтому поиск не ждёт дискового ввода-вывода,
// а размеры index и meta совпадают в любой наблюдаемый момент.
type Family struct {
	method    string
	embedder  embedder.Embedder
	snapshots SnapshotStore
	logger    logger.Logger

	dim     int
	writeMu sync.Mutex
	mu      sync.RWMutex
	index   *vector.Flat
	meta    *metadata.Store
	cursor  int
}

// New создаёт пустое семейство. Размерность берётся у экстрактора.
func New(method string, emb embedder.Embedder, snapshots SnapshotStore, logger logger.Logger) (*Family, error) {
	index, err := vector.NewFlat(emb.Dimension())
	if err != nil {
		return nil, e.Wrap(fmt.Sprintf("family %s", method), err)
	}
	return &Family{
		method:    method,
		embedder:  emb,
		snapshots: snapshots,
		logger:    logger.With("method", method),
		dim:       emb.Dimension(),
		index:     index,
		meta:      metadata.NewStore(),
	}, nil
}

func (f *Family) Method() string              { return f.method }
func (f *Family) Embedder() embedder.Embedder { return f.embedder }
func (f *Family) Dimension() int              { return f.dim }

func (f *Family) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index.Size()
}

// Cursor число элементов корпуса, учтённых построителем к последнему снимку.
func (f *Family) Cursor() int {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.cursor
}

// Search ищет k ближайших записей. Позиции без метаданных пропускаются.
func (f *Family) Search(query []float32, k int) ([]domain.SearchHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matches, err := f.index.Search(query, k)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(matches))
	for _, m := range matches {
		rec, err := f.meta.GetByPosition(m.Position)
		if err != nil {
			f.logger.Debugf("position %d has no metadata, skipped", m.Position)
			continue
		}
		hits = append(hits, domain.SearchHit{Record: rec, Score: m.Score})
	}
	return hits, nil
}

// Record возвращает запись по позиции.
func (f *Family) Record(pos int) (domain.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.GetByPosition(pos)
}

// RecordsByItem возвращает все изображения товара в этом семействе.
func (f *Family) RecordsByItem(itemID string) []domain.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.GetByItemID(itemID)
}

// RecordByImage возвращает запись по image_id.
func (f *Family) RecordByImage(imageID string) (domain.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.GetByImageID(imageID)
}

// RecordByPath возвращает первую запись, ссылающуюся на файл imagePath.
func (f *Family) RecordByPath(imagePath string) (domain.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.GetByImagePath(imagePath)
}

// Vector возвращает копию вектора по позиции.
func (f *Family) Vector(pos int) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index.Vector(pos)
}

// Append фиксирует батч в памяти без записи снимка. Либо добавляются все записи, либо ни одной.
func (f *Family) Append(entries []Entry) ([]domain.IndexedImage, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.appendLocked(entries)
}

// appendLocked вызывается под writeMu.
func (f *Family) appendLocked(entries []Entry) ([]domain.IndexedImage, error) {
	for _, en := range entries {
		if len(en.Vector) != f.dim {
			return nil, fmt.Errorf("%w: image %s: index expects %d, got %d",
				e.ErrDimensionMismatch, en.ImageID, f.dim, len(en.Vector))
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	start := f.index.Size()
	out := make([]domain.IndexedImage, 0, len(entries))
	for _, en := range entries {
		pos, err := f.index.Insert(en.Vector)
		if err == nil {
			rec := domain.NewRecord(pos, en.ImageID, en.ItemID, en.ImagePath)
			if err = f.meta.Append(*rec); err == nil {
				out = append(out, domain.IndexedImage{Record: *rec, Vector: en.Vector})
				continue
			}
		}
		if rbErr := f.truncateLocked(start); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return nil, err
	}
	metrics.IndexSize.WithLabelValues(f.method).Set(float64(f.index.Size()))
	return out, nil
}

// AppendDurable добавляет одну запись и сразу публикует снимок. Занятые image_id или
// image_path дают e.ErrImageExists. Если снимок записать не удалось, добавление
// откатывается и возвращается e.ErrPersistence.
func (f *Family) AppendDurable(ctx context.Context, en Entry) (domain.IndexedImage, error) {
	const op = "Family.AppendDurable"

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.conflictLocked(en); err != nil {
		return domain.IndexedImage{}, e.Wrap(op, err)
	}

	before := f.Size()
	added, err := f.appendLocked([]Entry{en})
	if err != nil {
		return domain.IndexedImage{}, e.Wrap(op, err)
	}

	if _, err := f.publishLocked(ctx, f.cursor); err != nil {
		err = persistence(err)
		// Поиск мог успеть увидеть запись до публикации: она откатывается вместе с ошибкой.
		f.mu.Lock()
		rbErr := f.truncateLocked(before)
		f.mu.Unlock()
		if rbErr != nil {
			f.logger.Errorf(rbErr, "rollback to %d failed", before)
		}
		return domain.IndexedImage{}, e.Wrap(op, err)
	}
	return added[0], nil
}

// conflictLocked вызывается под writeMu, поэтому проверка и вставка не разделены другим писателем.
func (f *Family) conflictLocked(en Entry) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, err := f.meta.GetByImageID(en.ImageID); err == nil {
		return fmt.Errorf("%w: image_id %s", e.ErrImageExists, en.ImageID)
	}
	if en.ImagePath == "" {
		return nil
	}
	if rec, err := f.meta.GetByImagePath(en.ImagePath); err == nil {
		return fmt.Errorf("%w: image_path %s belongs to %s", e.ErrImageExists, en.ImagePath, rec.ImageID)
	}
	return nil
}

// Checkpoint публикует снимок текущего состояния и запоминает cursor построителя.
func (f *Family) Checkpoint(ctx context.Context, cursor int) (snapshot.Manifest, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	m, err := f.publishLocked(ctx, cursor)
	if err != nil {
		return snapshot.Manifest{}, e.Wrap("Family.Checkpoint", persistence(err))
	}
	f.cursor = cursor
	return m, nil
}

// Reset очищает семейство перед полной перестройкой. Снимки на диске не трогаются
// до следующей публикации.
func (f *Family) Reset() {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	index, _ := vector.NewFlat(f.dim)
	f.mu.Lock()
	f.index, f.meta, f.cursor = index, metadata.NewStore(), 0
	f.mu.Unlock()
	metrics.IndexSize.WithLabelValues(f.method).Set(0)
}

// Recover загружает последний снимок. Если снимков нет, семейство остаётся пустым.
// Несогласованная пара файлов — e.ErrInconsistentSnapshot.
func (f *Family) Recover(ctx context.Context) (snapshot.Manifest, error) {
	const op = "Family.Recover"

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	m, ok, err := f.snapshots.Latest(ctx)
	if err != nil {
		return snapshot.Manifest{}, e.Wrap(op, err)
	}
	if !ok {
		f.logger.Infof("no snapshot found, starting empty")
		return snapshot.Manifest{}, nil
	}

	vr, mr, err := f.snapshots.Open(ctx, m)
	if err != nil {
		return snapshot.Manifest{}, e.Wrap(op, err)
	}
	defer vr.Close()
	defer mr.Close()

	index, err := vector.ReadFlat(vr)
	if err != nil {
		return snapshot.Manifest{}, e.Wrap(op, err)
	}
	if index.Dimension() != f.dim {
		return snapshot.Manifest{}, e.Wrap(op, fmt.Errorf("%w: snapshot dimension %d, extractor %d",
			e.ErrInconsistentSnapshot, index.Dimension(), f.dim))
	}
	meta := metadata.NewStore()
	if err := meta.Load(mr); err != nil {
		return snapshot.Manifest{}, e.Wrap(op, err)
	}
	if index.Size() != meta.Len() || index.Size() != m.Count {
		return snapshot.Manifest{}, e.Wrap(op, fmt.Errorf("%w: %d vectors, %d records, manifest %d",
			e.ErrInconsistentSnapshot, index.Size(), meta.Len(), m.Count))
	}

	f.mu.Lock()
	f.index, f.meta, f.cursor = index, meta, m.Cursor
	f.mu.Unlock()
	metrics.IndexSize.WithLabelValues(f.method).Set(float64(m.Count))

	f.logger.Infof("recovered generation %d: %d vectors, cursor %d", m.Generation, m.Count, m.Cursor)
	return m, nil
}

// publishLocked вызывается под writeMu. Состояние фиксируется под коротким
// RLock, запись идёт без mu.
func (f *Family) publishLocked(ctx context.Context, cursor int) (snapshot.Manifest, error) {
	f.mu.RLock()
	vectors, records := f.index.View(), f.meta.View()
	f.mu.RUnlock()

	defer metrics.ObserveSince(metrics.SnapshotPublishDuration, f.method, time.Now())
	return f.snapshots.Publish(ctx, snapshot.Manifest{
		Method:    f.method,
		Dimension: vectors.Dimension(),
		Count:     vectors.Size(),
		Cursor:    cursor,
	}, vectors, records)
}

// truncateLocked вызывается под mu.
func (f *Family) truncateLocked(n int) error {
	defer func() { metrics.IndexSize.WithLabelValues(f.method).Set(float64(f.index.Size())) }()
	return errors.Join(f.index.Truncate(n), f.meta.Truncate(n))
}

func persistence(err error) error {
	if errors.Is(err, e.ErrPersistence) {
		return err
	}
	return e.Mark(e.ErrPersistence, err)
}
