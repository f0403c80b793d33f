package calibration

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Baseline identifies an antenna pair.
type Baseline struct {
	Antenna1 int32
	Antenna2 int32
}

func (b Baseline) String() string { return fmt.Sprintf("%d-%d", b.Antenna1, b.Antenna2) }

// Canonical returns the baseline with Antenna1 <= Antenna2 and whether the
// antennas were swapped.
func (b Baseline) Canonical() (Baseline, bool) {
	if b.Antenna1 > b.Antenna2 {
		return Baseline{Antenna1: b.Antenna2, Antenna2: b.Antenna1}, true
	}
	return b, false
}

// Source supplies correction factors by baseline, time and frequency. ok is
// false when no correction is available.
type Source interface {
	Lookup(ctx context.Context, bl Baseline, time, freq float64) (factor complex64, ok bool, err error)
}

// Solution is a baseline correction valid for times in [Start, End) and
// frequencies in [FreqMin, FreqMax]. A zero frequency range matches every
// frequency.
type Solution struct {
	Baseline Baseline
	Start    float64
	End      float64
	FreqMin  float64
	FreqMax  float64
	Factor   complex64
}

// Covers reports whether s applies at time and freq.
func (s Solution) Covers(time, freq float64) bool {
	if time < s.Start || time >= s.End {
		return false
	}
	if s.FreqMin == 0 && s.FreqMax == 0 {
		return true
	}
	return freq >= s.FreqMin && freq <= s.FreqMax
}

// Resolve returns the factor of the first solution in sols covering time
// and freq, conjugated if the baseline was given reversed.
func Resolve(sols []Solution, swapped bool, time, freq float64) (complex64, bool) {
	for _, s := range sols {
		if s.Covers(time, freq) {
			if swapped {
				return complex(real(s.Factor), -imag(s.Factor)), true
			}
			return s.Factor, true
		}
	}
	return 0, false
}

// Table is an in-memory baseline-based calibration source. It is safe for
// concurrent use.
type Table struct {
	mu   sync.RWMutex
	sols map[Baseline][]Solution
}

// NewTable creates a table holding sols.
func NewTable(sols ...Solution) *Table {
	t := &Table{sols: make(map[Baseline][]Solution)}
	for _, s := range sols {
		t.Add(s)
	}
	return t
}

// Add inserts a solution. Solutions of a baseline are kept ordered by start
// time; the earliest covering solution wins.
func (t *Table) Add(s Solution) {
	bl, swapped := s.Baseline.Canonical()
	s.Baseline = bl
	if swapped {
		s.Factor = complex(real(s.Factor), -imag(s.Factor))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.sols[bl]
	i, _ := slices.BinarySearchFunc(list, s.Start, func(e Solution, start float64) int {
		switch {
		case e.Start < start:
			return -1
		case e.Start > start:
			return 1
		}
		return 0
	})
	t.sols[bl] = slices.Insert(list, i, s)
}

// Len returns the number of solutions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, l := range t.sols {
		n += len(l)
	}
	return n
}

// Lookup implements Source.
func (t *Table) Lookup(_ context.Context, bl Baseline, time, freq float64) (complex64, bool, error) {
	bl, swapped := bl.Canonical()
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := Resolve(t.sols[bl], swapped, time, freq)
	return f, ok, nil
}

// Gain is an antenna-based complex gain valid for times in [Start, End).
type Gain struct {
	Antenna int32
	Start   float64
	End     float64
	Value   complex64
}

// AntennaGains derives baseline corrections from antenna gains: the factor
// for (a1, a2) is g(a1)·conj(g(a2)).
type AntennaGains struct {
	gains map[int32][]Gain
}

// NewAntennaGains creates a source from gains.
func NewAntennaGains(gains ...Gain) *AntennaGains {
	a := &AntennaGains{gains: make(map[int32][]Gain)}
	for _, g := range gains {
		a.gains[g.Antenna] = append(a.gains[g.Antenna], g)
	}
	return a
}

func (a *AntennaGains) gain(ant int32, time float64) (complex64, bool) {
	for _, g := range a.gains[ant] {
		if time >= g.Start && time < g.End {
			return g.Value, true
		}
	}
	return 0, false
}

// Lookup implements Source. Gains do not depend on frequency.
func (a *AntennaGains) Lookup(_ context.Context, bl Baseline, time, _ float64) (complex64, bool, error) {
	g1, ok := a.gain(bl.Antenna1, time)
	if !ok {
		return 0, false, nil
	}
	g2, ok := a.gain(bl.Antenna2, time)
	if !ok {
		return 0, false, nil
	}
	return g1 * complex(real(g2), -imag(g2)), true, nil
}

// Unity is a source that returns 1 everywhere.
type Unity struct{}

func (Unity) Lookup(context.Context, Baseline, float64, float64) (complex64, bool, error) {
	return 1, true, nil
}
