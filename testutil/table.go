package testutil

import (
	"context"

	"github.com/hupe1980/vistream/storage"
)

// TableSpec describes a synthetic visibility table. Zero fields take the
// defaults noted below.
type TableSpec struct {
	// NumPol is the polarization count (default 2).
	NumPol int
	// Channels per spectral window (default 8).
	Channels int
	// StartFreq and ChannelWidth define the channel grid in Hz
	// (default 1 GHz, 1 MHz). Window w starts at StartFreq + w*Channels*ChannelWidth.
	StartFreq    float64
	ChannelWidth float64
	// Antennas is the antenna count; every cross baseline is generated (default 4).
	Antennas int
	// Times is the number of integrations per field and window (default 4).
	Times int
	// StartTime and TimeStep in seconds (default 1000, 10).
	StartTime float64
	TimeStep  float64
	// Fields and SpectralWindows are enumerated as 0..n-1 (default 1 each).
	Fields          int
	SpectralWindows int
	// FlagFraction is the probability that a sample is flagged.
	FlagFraction float64
	// Value, if set, produces sample (p, c) of storage row r. Otherwise
	// samples are random.
	Value func(row, p, c int) complex64
}

func (s TableSpec) withDefaults() TableSpec {
	if s.NumPol == 0 {
		s.NumPol = 2
	}
	if s.Channels == 0 {
		s.Channels = 8
	}
	if s.StartFreq == 0 {
		s.StartFreq = 1e9
	}
	if s.ChannelWidth == 0 {
		s.ChannelWidth = 1e6
	}
	if s.Antennas == 0 {
		s.Antennas = 4
	}
	if s.Times == 0 {
		s.Times = 4
	}
	if s.StartTime == 0 {
		s.StartTime = 1000
	}
	if s.TimeStep == 0 {
		s.TimeStep = 10
	}
	if s.Fields == 0 {
		s.Fields = 1
	}
	if s.SpectralWindows == 0 {
		s.SpectralWindows = 1
	}
	return s
}

// Baselines returns the number of cross baselines in s.
func (s TableSpec) Baselines() int {
	s = s.withDefaults()
	return s.Antennas * (s.Antennas - 1) / 2
}

// Rows returns the number of rows Generate produces for s.
func (s TableSpec) Rows() int {
	s = s.withDefaults()
	return s.Fields * s.SpectralWindows * s.Times * s.Baselines()
}

// Schema returns the table schema described by s.
func (s TableSpec) Schema() storage.Schema {
	s = s.withDefaults()
	schema := storage.Schema{NumPol: s.NumPol}
	for w := range s.SpectralWindows {
		freqs := make([]float64, s.Channels)
		base := s.StartFreq + float64(w*s.Channels)*s.ChannelWidth
		for c := range freqs {
			freqs[c] = base + float64(c)*s.ChannelWidth
		}
		schema.SpectralWindows = append(schema.SpectralWindows, storage.SpectralWindow{ID: int32(w), Frequencies: freqs})
	}
	return schema
}

// Generate builds the schema and rows for s. Rows are ordered by field,
// spectral window, time and baseline.
func (r *RNG) Generate(s TableSpec) (storage.Schema, *storage.Columns) {
	s = s.withDefaults()
	schema := s.Schema()
	n := s.Rows()
	cube := s.NumPol * s.Channels

	cols := &storage.Columns{
		Time:           make([]float64, 0, n),
		Interval:       make([]float64, 0, n),
		Antenna1:       make([]int32, 0, n),
		Antenna2:       make([]int32, 0, n),
		FieldID:        make([]int32, 0, n),
		SpectralWindow: make([]int32, 0, n),
		UVW:            make([]float64, 0, 3*n),
		Weight:         make([]float32, 0, s.NumPol*n),
		FlagRow:        make([]bool, 0, n),
		Data:           make([]complex64, n*cube),
		Flag:           make([]bool, n*cube),
	}

	row := 0
	for f := range s.Fields {
		for w := range s.SpectralWindows {
			for ti := range s.Times {
				t := s.StartTime + float64(ti)*s.TimeStep
				for a1 := 0; a1 < s.Antennas; a1++ {
					for a2 := a1 + 1; a2 < s.Antennas; a2++ {
						cols.Time = append(cols.Time, t)
						cols.Interval = append(cols.Interval, s.TimeStep)
						cols.Antenna1 = append(cols.Antenna1, int32(a1))
						cols.Antenna2 = append(cols.Antenna2, int32(a2))
						cols.FieldID = append(cols.FieldID, int32(f))
						cols.SpectralWindow = append(cols.SpectralWindow, int32(w))
						cols.UVW = append(cols.UVW, float64(a2-a1)*100, float64(a1)*10, float64(ti))
						for range s.NumPol {
							cols.Weight = append(cols.Weight, 1)
						}
						cols.FlagRow = append(cols.FlagRow, false)

						data := cols.Data[row*cube : (row+1)*cube]
						if s.Value != nil {
							for c := range s.Channels {
								for p := range s.NumPol {
									data[c*s.NumPol+p] = s.Value(row, p, c)
								}
							}
						} else {
							r.FillComplex(data)
						}
						r.FillFlags(cols.Flag[row*cube:(row+1)*cube], s.FlagFraction)
						row++
					}
				}
			}
		}
	}
	return schema, cols
}

// Populate creates path in st and appends the rows generated for s.
func Populate(ctx context.Context, st storage.Storage, path string, s TableSpec, rng *RNG) (storage.Schema, int, error) {
	schema, cols := rng.Generate(s)
	t, err := st.Create(ctx, path, schema)
	if err != nil {
		return storage.Schema{}, 0, err
	}
	rows, err := t.AppendRows(ctx, cols)
	if err != nil {
		_ = t.Close()
		return storage.Schema{}, 0, err
	}
	return schema, rows.Len(), t.Close()
}

// Constant returns a Value function producing v everywhere.
func Constant(v complex64) func(row, p, c int) complex64 {
	return func(int, int, int) complex64 { return v }
}
