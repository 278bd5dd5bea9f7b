// Package snapshot публикует парные снимки индекса (векторы + метаданные) на диск атомарно.
//
// Каждый снимок лежит в собственном каталоге gen-NNNNNNNNNN. Файл CURRENT хранит манифест
// последнего опубликованного поколения и заменяется атомарно после того, как каталог
// поколения полностью записан и переименован. Читатель видит либо старую пару файлов,
// либо новую.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/google/renameio"
)

const (
	VectorsFile  = "vectors.bin"
	MetadataFile = "metadata.json"
	ManifestFile = "manifest.json"
	currentFile  = "CURRENT"
	genPrefix    = "gen-"
	tmpPrefix    = ".tmp-"
)

// Manifest описывает опубликованный снимок.
type Manifest struct {
	Generation uint64    `json:"generation"`
	Method     string    `json:"method"`
	Dimension  int       `json:"dimension"`
	Count      int       `json:"count"`
	Cursor     int       `json:"cursor"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store управляет снимками одного семейства индекса в каталоге dir.
type Store struct {
	dir    string
	keep   int
	logger logger.Logger
}

// NewStore создаёт каталог dir при необходимости. keep — сколько поколений хранить (минимум 1).
func NewStore(dir string, keep int, logger logger.Logger) (*Store, error) {
	if keep < 1 {
		keep = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, e.Mark(e.ErrPersistence, err)
	}
	return &Store{dir: dir, keep: keep, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Latest возвращает манифест последнего опубликованного снимка; ok=false, если снимков нет.
func (s *Store) Latest(ctx context.Context) (Manifest, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, e.Mark(e.ErrPersistence, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("%w: read %s: %w", e.ErrInconsistentSnapshot, currentFile, err)
	}
	return m, true, nil
}

// Open открывает оба артефакта снимка m. Отсутствие любого из них — e.ErrInconsistentSnapshot.
func (s *Store) Open(ctx context.Context, m Manifest) (vectors, metadata io.ReadCloser, err error) {
	dir := s.genDir(m.Generation)

	vectors, err = openArtifact(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, nil, err
	}
	metadata, err = openArtifact(filepath.Join(dir, MetadataFile))
	if err != nil {
		vectors.Close()
		return nil, nil, err
	}
	return vectors, metadata, nil
}

func openArtifact(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: missing %s", e.ErrInconsistentSnapshot, path)
	}
	if err != nil {
		return nil, e.Mark(e.ErrPersistence, err)
	}
	return f, nil
}

// Publish записывает новое поколение из vectors и records и делает его текущим.
// Поле Generation манифеста назначается здесь; возвращается итоговый манифест.
func (s *Store) Publish(ctx context.Context, m Manifest, vectors, records io.WriterTo) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, e.Mark(e.ErrPersistence, err)
	}

	gens, err := s.generations()
	if err != nil {
		return Manifest{}, err
	}
	m.Generation = 1
	if len(gens) > 0 {
		m.Generation = gens[0] + 1
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	tmp, err := os.MkdirTemp(s.dir, tmpPrefix)
	if err != nil {
		return Manifest{}, e.Mark(e.ErrPersistence, err)
	}
	defer os.RemoveAll(tmp)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, e.Mark(e.ErrPersistence, err)
	}

	if err := writeFile(filepath.Join(tmp, VectorsFile), vectors); err != nil {
		return Manifest{}, err
	}
	if err := writeFile(filepath.Join(tmp, MetadataFile), records); err != nil {
		return Manifest{}, err
	}
	if err := writeFile(filepath.Join(tmp, ManifestFile), bytesWriter(manifest)); err != nil {
		return Manifest{}, err
	}
	if err := syncDir(tmp); err != nil {
		return Manifest{}, err
	}

	if err := os.Rename(tmp, s.genDir(m.Generation)); err != nil {
		return Manifest{}, e.Mark(e.ErrPersistence, err)
	}
	if err := syncDir(s.dir); err != nil {
		return Manifest{}, err
	}

	if err := renameio.WriteFile(filepath.Join(s.dir, currentFile), manifest, 0o644); err != nil {
		return Manifest{}, e.Mark(e.ErrPersistence, err)
	}

	s.prune(m.Generation)
	return m, nil
}

// generations возвращает номера поколений на диске по убыванию.
func (s *Store) generations() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, e.Mark(e.ErrPersistence, err)
	}

	var gens []uint64
	for _, en := range entries {
		var g uint64
		if !en.IsDir() || !strings.HasPrefix(en.Name(), genPrefix) {
			continue
		}
		if _, err := fmt.Sscanf(en.Name(), genPrefix+"%d", &g); err == nil {
			gens = append(gens, g)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] > gens[j] })
	return gens, nil
}

// prune удаляет старые поколения и брошенные временные каталоги. Ошибки только логируются.
func (s *Store) prune(current uint64) {
	if tmps, err := filepath.Glob(filepath.Join(s.dir, tmpPrefix+"*")); err == nil {
		for _, t := range tmps {
			_ = os.RemoveAll(t)
		}
	}

	gens, err := s.generations()
	if err != nil {
		s.logger.Warnf("snapshot prune: %v", err)
		return
	}

	kept := 0
	for _, g := range gens {
		if g > current {
			continue
		}
		kept++
		if kept <= s.keep {
			continue
		}
		if err := os.RemoveAll(s.genDir(g)); err != nil {
			s.logger.Warnf("snapshot prune: remove generation %d: %v", g, err)
		}
	}
}

func (s *Store) genDir(gen uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%010d", genPrefix, gen))
}

func writeFile(path string, src io.WriterTo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return e.Mark(e.ErrPersistence, err)
	}
	if _, err := src.WriteTo(f); err != nil {
		f.Close()
		return e.Mark(e.ErrPersistence, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return e.Mark(e.ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return e.Mark(e.ErrPersistence, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return e.Mark(e.ErrPersistence, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return e.Mark(e.ErrPersistence, err)
	}
	return nil
}

type bytesWriter []byte

func (b bytesWriter) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b)
	return int64(n), err
}
