package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/cespare/xxhash/v2"
)

// Формат файла:
//
//	magic   [4]byte "VFLT"
//	version uint32
//	dim     uint32
//	count   uint64
//	data    count*dim float32
//	digest  uint64 xxhash64 от data
//
// Все числа little-endian.
var magic = [4]byte{'V', 'F', 'L', 'T'}

const (
	formatVersion = 1
	chunkFloats   = 4096
	// Пределы заголовка: мусорные dim/count не должны доходить до make.
	maxDim      = 1 << 16
	maxElements = 1 << 36
)

type header struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// Save записывает индекс в w.
func (f *Flat) Save(w io.Writer) error {
	_, err := f.View().WriteTo(w)
	return err
}

// Load заменяет содержимое индекса данными из r. Размерность должна совпадать.
func (f *Flat) Load(r io.Reader) error {
	loaded, err := ReadFlat(r)
	if err != nil {
		return err
	}
	if loaded.dim != f.dim {
		return fmt.Errorf("%w: index expects %d, snapshot has %d", e.ErrDimensionMismatch, f.dim, loaded.dim)
	}

	f.mu.Lock()
	f.data = loaded.data
	f.mu.Unlock()
	return nil
}

// WriteTo реализует io.WriterTo.
func (v *View) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	h := header{Magic: magic, Version: formatVersion, Dim: uint32(v.dim), Count: uint64(v.Size())}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return cw.n, err
	}

	digest := xxhash.New()
	payload := io.MultiWriter(bw, digest)

	buf := make([]byte, 0, chunkFloats*4)
	for start := 0; start < len(v.data); start += chunkFloats {
		end := min(start+chunkFloats, len(v.data))
		buf = buf[:0]
		for _, x := range v.data[start:end] {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
		}
		if _, err := payload.Write(buf); err != nil {
			return cw.n, err
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, digest.Sum64()); err != nil {
		return cw.n, err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadFlat читает индекс, записанный Save или View.WriteTo.
// Любое повреждение возвращается как e.ErrInconsistentSnapshot.
func ReadFlat(r io.Reader) (*Flat, error) {
	br := bufio.NewReader(r)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, corrupt("read header", err)
	}
	if h.Magic != magic {
		return nil, corrupt("bad magic", fmt.Errorf("%q", h.Magic[:]))
	}
	if h.Version != formatVersion {
		return nil, corrupt("unsupported version", fmt.Errorf("%d", h.Version))
	}
	if h.Dim == 0 || h.Dim > maxDim || h.Count > maxElements/uint64(h.Dim) {
		return nil, corrupt("bad header", fmt.Errorf("dim=%d count=%d", h.Dim, h.Count))
	}

	total := int(h.Count) * int(h.Dim)
	// Буфер растёт по мере чтения: усечённый файл не должен стоить total*4 байт.
	data := make([]float32, 0, min(total, chunkFloats))
	digest := xxhash.New()
	buf := make([]byte, chunkFloats*4)

	for start := 0; start < total; start += chunkFloats {
		end := min(start+chunkFloats, total)
		chunk := buf[:(end-start)*4]
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, corrupt("read vectors", err)
		}
		_, _ = digest.Write(chunk)
		for i := 0; i < end-start; i++ {
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*4:])))
		}
	}

	var sum uint64
	if err := binary.Read(br, binary.LittleEndian, &sum); err != nil {
		return nil, corrupt("read digest", err)
	}
	if sum != digest.Sum64() {
		return nil, corrupt("digest mismatch", fmt.Errorf("want %x, got %x", sum, digest.Sum64()))
	}

	return &Flat{dim: int(h.Dim), data: data}, nil
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: vectors: %s: %w", e.ErrInconsistentSnapshot, what, err)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
