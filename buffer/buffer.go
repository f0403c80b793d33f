package buffer

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Buffer holds one sub-chunk of visibility data.
//
// Cubes have shape (P, C, R) and are stored flat with the polarization axis
// varying fastest: index = (r*C + c)*P + p. Per-row columns have length R,
// Weight has length P*R and UVW has length 3*R.
//
// A Buffer is reused in place on every advance of the iterator that owns it.
// Callers must not retain it (or slices obtained from it) across an advance.
type Buffer struct {
	nRows int
	nChan int
	nPol  int

	Chunk    int
	Subchunk int

	Time           []float64
	Interval       []float64
	Antenna1       []int32
	Antenna2       []int32
	FieldID        []int32
	SpectralWindow []int32
	UVW            []float64
	Weight         []float32

	// RowFlags is the set of flagged rows (FLAG_ROW).
	RowFlags *roaring.Bitmap

	// Meta carries per-row annotations written by transform layers.
	Meta []RowMeta

	Data  []complex64
	Flags []bool

	// Frequencies are the channel centre frequencies in Hz (length C).
	Frequencies []float64
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{RowFlags: roaring.New()}
}

// Rows returns R.
func (b *Buffer) Rows() int { return b.nRows }

// Channels returns C.
func (b *Buffer) Channels() int { return b.nChan }

// Polarizations returns P.
func (b *Buffer) Polarizations() int { return b.nPol }

// Shape returns (P, C, R).
func (b *Buffer) Shape() (nPol, nChan, nRows int) {
	return b.nPol, b.nChan, b.nRows
}

// Index returns the flat cube index of (p, c, r).
func (b *Buffer) Index(p, c, r int) int {
	return (r*b.nChan+c)*b.nPol + p
}

// RowStride is the number of cube elements per row (P*C).
func (b *Buffer) RowStride() int { return b.nPol * b.nChan }

// Reset reshapes the buffer to (nPol, nChan, nRows), reusing existing
// capacity. Contents are zeroed and row metadata is cleared.
func (b *Buffer) Reset(nPol, nChan, nRows int) {
	b.nPol, b.nChan, b.nRows = nPol, nChan, nRows

	b.Time = resize(b.Time, nRows)
	b.Interval = resize(b.Interval, nRows)
	b.Antenna1 = resize(b.Antenna1, nRows)
	b.Antenna2 = resize(b.Antenna2, nRows)
	b.FieldID = resize(b.FieldID, nRows)
	b.SpectralWindow = resize(b.SpectralWindow, nRows)
	b.UVW = resize(b.UVW, 3*nRows)
	b.Weight = resize(b.Weight, nPol*nRows)
	b.Meta = resize(b.Meta, nRows)
	for i := range b.Meta {
		b.Meta[i] = RowMeta{SourceRow: -1}
	}

	n := nPol * nChan * nRows
	b.Data = resize(b.Data, n)
	b.Flags = resize(b.Flags, n)
	b.Frequencies = resize(b.Frequencies, nChan)

	if b.RowFlags == nil {
		b.RowFlags = roaring.New()
	} else {
		b.RowFlags.Clear()
	}
}

// ReshapeChannels changes C to nChan, keeping per-row columns and metadata.
// The cubes and Frequencies are reallocated and zeroed.
func (b *Buffer) ReshapeChannels(nChan int) {
	b.nChan = nChan
	n := b.nPol * nChan * b.nRows
	b.Data = make([]complex64, n)
	b.Flags = make([]bool, n)
	b.Frequencies = make([]float64, nChan)
}

// DataRow returns the P*C samples of row r.
func (b *Buffer) DataRow(r int) []complex64 {
	s := b.RowStride()
	return b.Data[r*s : (r+1)*s]
}

// FlagsRow returns the P*C flags of row r.
func (b *Buffer) FlagsRow(r int) []bool {
	s := b.RowStride()
	return b.Flags[r*s : (r+1)*s]
}

// WeightRow returns the P weights of row r.
func (b *Buffer) WeightRow(r int) []float32 {
	return b.Weight[r*b.nPol : (r+1)*b.nPol]
}

// Validate checks the shape invariants: every per-row column has R entries,
// per-channel columns have C entries and cubes have P*C*R entries.
func (b *Buffer) Validate() error {
	rows := map[string]int{
		"TIME":            len(b.Time),
		"INTERVAL":        len(b.Interval),
		"ANTENNA1":        len(b.Antenna1),
		"ANTENNA2":        len(b.Antenna2),
		"FIELD_ID":        len(b.FieldID),
		"SPECTRAL_WINDOW": len(b.SpectralWindow),
		"META":            len(b.Meta),
	}
	for name, n := range rows {
		if n != b.nRows {
			return fmt.Errorf("column %s has %d rows, want %d", name, n, b.nRows)
		}
	}
	if len(b.UVW) != 3*b.nRows {
		return fmt.Errorf("column UVW has %d values, want %d", len(b.UVW), 3*b.nRows)
	}
	if len(b.Weight) != b.nPol*b.nRows {
		return fmt.Errorf("column WEIGHT has %d values, want %d", len(b.Weight), b.nPol*b.nRows)
	}
	if len(b.Frequencies) != b.nChan {
		return fmt.Errorf("frequencies have %d channels, want %d", len(b.Frequencies), b.nChan)
	}
	n := b.nPol * b.nChan * b.nRows
	if len(b.Data) != n {
		return fmt.Errorf("column DATA has %d samples, want %d", len(b.Data), n)
	}
	if len(b.Flags) != n {
		return fmt.Errorf("column FLAG has %d samples, want %d", len(b.Flags), n)
	}
	return nil
}

// Clone returns a deep copy of b.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{
		nRows:          b.nRows,
		nChan:          b.nChan,
		nPol:           b.nPol,
		Chunk:          b.Chunk,
		Subchunk:       b.Subchunk,
		Time:           clone(b.Time),
		Interval:       clone(b.Interval),
		Antenna1:       clone(b.Antenna1),
		Antenna2:       clone(b.Antenna2),
		FieldID:        clone(b.FieldID),
		SpectralWindow: clone(b.SpectralWindow),
		UVW:            clone(b.UVW),
		Weight:         clone(b.Weight),
		Meta:           clone(b.Meta),
		Data:           clone(b.Data),
		Flags:          clone(b.Flags),
		Frequencies:    clone(b.Frequencies),
	}
	if b.RowFlags != nil {
		c.RowFlags = b.RowFlags.Clone()
	} else {
		c.RowFlags = roaring.New()
	}
	return c
}

// SizeBytes estimates the memory held by the buffer's columns.
func (b *Buffer) SizeBytes() int64 {
	n := int64(cap(b.Data))*8 + int64(cap(b.Flags))
	n += int64(cap(b.Time)+cap(b.Interval)+cap(b.UVW)+cap(b.Frequencies)) * 8
	n += int64(cap(b.Antenna1)+cap(b.Antenna2)+cap(b.FieldID)+cap(b.SpectralWindow)+cap(b.Weight)) * 4
	n += int64(cap(b.Meta)) * rowMetaSize
	return n
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	s = s[:n]
	clear(s)
	return s
}

func clone[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
