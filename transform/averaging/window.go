package averaging

import (
	"fmt"
	"math"

	"github.com/hupe1980/vistream/buffer"
)

type baselineKey struct{ a1, a2 int32 }

// rowAcc accumulates the input rows of one baseline.
type rowAcc struct {
	key        baselineKey
	field, spw int32
	n          int
	source     int64
	edge       buffer.EdgePolicy
	edgeWidth  int

	first    float64 // earliest input TIME
	last     float64 // latest input TIME
	uvwFirst [3]float64
	lo, hi   float64
	flagged  bool // logical AND of the input row flags
	uvw      [3]float64
	uvwW     float64
	uvwPlain [3]float64

	weight []float64 // P

	// per cube element (c*P + p)
	sum   []complex128 // weighted sum of valid samples
	wsum  []float64
	vsum  []complex128 // plain sum of valid samples
	valid []int
	all   []complex128 // plain sum of every sample
}

// window accumulates input sub-chunks until it closes.
type window struct {
	started bool
	start   float64
	nPol    int
	nChan   int
	freqs   []float64
	rows    []*rowAcc
	index   map[baselineKey]*rowAcc // open accumulator per baseline
}

func (w *window) reset() {
	w.started = false
	w.rows = w.rows[:0]
	clear(w.index)
}

// accepts reports whether buf belongs to the open window.
func (w *window) accepts(buf *buffer.Buffer, opts Options) bool {
	if !w.started {
		return true
	}
	if buf.Time[0] >= w.start+opts.Interval {
		return false
	}
	if opts.MaxRows > 0 {
		added := 0
		seen := map[baselineKey]bool{}
		for r := range buf.Rows() {
			k := baselineKey{buf.Antenna1[r], buf.Antenna2[r]}
			if seen[k] {
				continue
			}
			seen[k] = true
			if a, ok := w.index[k]; !ok || a.movedTooFar(buf.UVW[3*r:3*r+3], opts.MaxUvwDistance) {
				added++
			}
		}
		if len(w.rows)+added > opts.MaxRows {
			return false
		}
	}
	return true
}

// movedTooFar reports whether uvw lies more than maxDist from the first UVW
// of the accumulator. A zero maxDist never splits.
func (a *rowAcc) movedTooFar(uvw []float64, maxDist float64) bool {
	if maxDist <= 0 {
		return false
	}
	var d2 float64
	for j := range 3 {
		d := uvw[j] - a.uvwFirst[j]
		d2 += d * d
	}
	return math.Sqrt(d2) > maxDist
}

// add accumulates every row of buf. A baseline whose UVW has moved more
// than opts.MaxUvwDistance from the first row of its accumulator is closed
// and a new accumulator is started for it, so the window emits one row per
// closed run. It fails, without changing the window, if buf has a different
// shape from the rows already accumulated.
func (w *window) add(buf *buffer.Buffer, opts Options) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	nPol, nChan, nRows := buf.Shape()
	if w.started && (nPol != w.nPol || nChan != w.nChan) {
		return fmt.Errorf("shape (%d, %d) differs from (%d, %d) within an averaging window", nPol, nChan, w.nPol, w.nChan)
	}
	if !w.started {
		w.started = true
		w.start = buf.Time[0]
		w.nPol, w.nChan = nPol, nChan
		w.freqs = append(w.freqs[:0], buf.Frequencies...)
		if w.index == nil {
			w.index = make(map[baselineKey]*rowAcc)
		}
	}

	stride := nPol * nChan
	for r := range nRows {
		k := baselineKey{buf.Antenna1[r], buf.Antenna2[r]}
		uvw := buf.UVW[3*r : 3*r+3]
		a, ok := w.index[k]
		if !ok || a.movedTooFar(uvw, opts.MaxUvwDistance) {
			a = &rowAcc{
				key:       k,
				field:     buf.FieldID[r],
				spw:       buf.SpectralWindow[r],
				source:    buf.Meta[r].SourceRow,
				edge:      buf.Meta[r].Edge,
				edgeWidth: buf.Meta[r].EdgeWidth,
				flagged:   true,
				lo:        math.Inf(1),
				hi:        math.Inf(-1),
				weight:    make([]float64, nPol),
				sum:       make([]complex128, stride),
				wsum:      make([]float64, stride),
				vsum:      make([]complex128, stride),
				valid:     make([]int, stride),
				all:       make([]complex128, stride),
				first:     buf.Time[r],
				last:      buf.Time[r],
				uvwFirst:  [3]float64{uvw[0], uvw[1], uvw[2]},
			}
			w.index[k] = a
			w.rows = append(w.rows, a)
		}
		a.addRow(buf, r, opts.Weighting)
	}
	return nil
}

func (a *rowAcc) addRow(buf *buffer.Buffer, r int, weighting Weighting) {
	nPol, nChan, _ := buf.Shape()
	rowFlag := buf.RowFlags.Contains(uint32(r))
	weights := buf.WeightRow(r)

	var rowWeight float64
	for p := range nPol {
		wt := 1.0
		if weighting == ByWeight {
			wt = float64(weights[p])
		}
		anyValid := false
		for c := range nChan {
			i := c*nPol + p
			s := complex128(buf.Data[buf.Index(p, c, r)])
			a.all[i] += s
			if rowFlag || buf.Flags[buf.Index(p, c, r)] {
				continue
			}
			anyValid = true
			a.sum[i] += complex(wt, 0) * s
			a.wsum[i] += wt
			a.vsum[i] += s
			a.valid[i]++
		}
		if anyValid {
			a.weight[p] += float64(weights[p])
			rowWeight += wt
		}
	}

	t := buf.Time[r]
	half := buf.Interval[r] / 2
	a.first = math.Min(a.first, t)
	a.last = math.Max(a.last, t)
	a.lo = math.Min(a.lo, t-half)
	a.hi = math.Max(a.hi, t+half)
	a.flagged = a.flagged && rowFlag

	uvw := buf.UVW[3*r : 3*r+3]
	for j := range 3 {
		a.uvwPlain[j] += uvw[j]
		if rowWeight > 0 {
			a.uvw[j] += rowWeight * uvw[j]
		}
	}
	a.uvwW += rowWeight
	a.n++
}

// emit writes the averaged rows into out.
func (w *window) emit(out *buffer.Buffer, chunk, sub int) {
	nPol, nChan := w.nPol, w.nChan
	out.Reset(nPol, nChan, len(w.rows))
	out.Chunk, out.Subchunk = chunk, sub
	copy(out.Frequencies, w.freqs)

	for k, a := range w.rows {
		n := float64(a.n)
		out.Time[k] = (a.first + a.last) / 2
		out.Interval[k] = a.hi - a.lo
		out.Antenna1[k], out.Antenna2[k] = a.key.a1, a.key.a2
		out.FieldID[k], out.SpectralWindow[k] = a.field, a.spw
		for j := range 3 {
			if a.uvwW > 0 {
				out.UVW[3*k+j] = a.uvw[j] / a.uvwW
			} else {
				out.UVW[3*k+j] = a.uvwPlain[j] / n
			}
		}
		for p := range nPol {
			out.Weight[k*nPol+p] = float32(a.weight[p])
		}
		if a.flagged {
			out.RowFlags.Add(uint32(k))
		}

		out.Meta[k] = buffer.RowMeta{SourceRow: -1, Counts: a.n, Edge: a.edge, EdgeWidth: a.edgeWidth}
		if a.n == 1 {
			out.Meta[k].SourceRow = a.source
		}

		for c := range nChan {
			for p := range nPol {
				i := c*nPol + p
				oi := out.Index(p, c, k)
				switch {
				case a.valid[i] > 0 && a.wsum[i] > 0:
					out.Data[oi] = complex64(a.sum[i] / complex(a.wsum[i], 0))
				case a.valid[i] > 0:
					out.Data[oi] = complex64(a.vsum[i] / complex(float64(a.valid[i]), 0))
				default:
					out.Data[oi] = complex64(a.all[i] / complex(n, 0))
					out.Flags[oi] = true
				}
			}
		}
	}
}
