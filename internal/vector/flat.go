// Package vector реализует точный (полный перебор) индекс по скалярному произведению.
package vector

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/DRSN-tech/visual-search/pkg/e"
)

// Match результат поиска: позиция вектора и его скалярное произведение с запросом.
type Match struct {
	Position int
	Score    float32
}

// Flat хранит векторы одной размерности подряд в одном срезе.
// Позиция вектора равна размеру индекса до его вставки.
type Flat struct {
	mu   sync.RWMutex
	dim  int
	data []float32
}

// NewFlat создаёт пустой индекс размерности dim.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", e.ErrInvalidArgument, dim)
	}
	return &Flat{dim: dim}, nil
}

func (f *Flat) Dimension() int {
	return f.dim
}

func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dim
}

// Insert добавляет копию v и возвращает её позицию.
func (f *Flat) Insert(v []float32) (int, error) {
	if len(v) != f.dim {
		return 0, fmt.Errorf("%w: index expects %d, got %d", e.ErrDimensionMismatch, f.dim, len(v))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pos := len(f.data) / f.dim
	f.data = append(f.data, v...)
	return pos, nil
}

// Vector возвращает копию вектора на позиции pos.
func (f *Flat) Vector(pos int) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if pos < 0 || (pos+1)*f.dim > len(f.data) {
		return nil, false
	}
	out := make([]float32, f.dim)
	copy(out, f.data[pos*f.dim:(pos+1)*f.dim])
	return out, true
}

// Truncate отбрасывает все векторы начиная с позиции n.
// Используется только для отката неподтверждённой вставки.
func (f *Flat) Truncate(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := len(f.data) / f.dim
	if n < 0 || n > size {
		return fmt.Errorf("%w: truncate to %d, size %d", e.ErrInvalidArgument, n, size)
	}
	f.data = f.data[:n*f.dim]
	return nil
}

// Search возвращает не более k ближайших по скалярному произведению векторов:
// по убыванию score, при равенстве по возрастанию позиции.
func (f *Flat) Search(query []float32, k int) ([]Match, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: index expects %d, got %d", e.ErrDimensionMismatch, f.dim, len(query))
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return topK(f.data, f.dim, query, k), nil
}

func topK(data []float32, dim int, query []float32, k int) []Match {
	size := len(data) / dim
	if k > size {
		k = size
	}
	if k <= 0 {
		return []Match{}
	}

	h := make(matchHeap, 0, k)
	for pos := 0; pos < size; pos++ {
		m := Match{Position: pos, Score: Dot(query, data[pos*dim:(pos+1)*dim])}
		if len(h) < k {
			heap.Push(&h, m)
			continue
		}
		if better(m, h[0]) {
			h[0] = m
			heap.Fix(&h, 0)
		}
	}

	out := []Match(h)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// better задаёт порядок выдачи.
func better(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Position < b.Position
}

// matchHeap min-куча: в корне худший из отобранных.
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	m := old[len(old)-1]
	*h = old[:len(old)-1]
	return m
}

// View неизменяемый срез состояния индекса на момент вызова Flat.View.
// Вставки после взятия View в него не попадают.
type View struct {
	dim  int
	data []float32
}

// View фиксирует текущее состояние. Данные не копируются: индекс только дописывается,
// а усечение выполняет тот же писатель, что держит View.
func (f *Flat) View() *View {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &View{dim: f.dim, data: f.data[:len(f.data):len(f.data)]}
}

func (v *View) Size() int      { return len(v.data) / v.dim }
func (v *View) Dimension() int { return v.dim }
