package vi

import (
	"math"

	"github.com/hupe1980/vistream/storage"
)

// chunkSpan is a chunk's contiguous storage row range and its sub-chunks.
type chunkSpan struct {
	rows storage.RowRange
	spw  int32
	subs []storage.RowRange
}

// buildIndex groups rows into chunks by (FIELD_ID, SPECTRAL_WINDOW,
// floor(TIME/interval)) and splits each chunk into runs of equal TIME of at
// most maxRows rows. interval 0 groups by exact TIME; maxRows 0 is unbounded.
func buildIndex(keys *storage.Columns, interval float64, maxRows int) []chunkSpan {
	n := len(keys.Time)
	if n == 0 {
		return nil
	}

	bin := func(t float64) float64 {
		if interval > 0 {
			return math.Floor(t / interval)
		}
		return t
	}

	var chunks []chunkSpan
	start := 0
	for r := 1; r <= n; r++ {
		if r < n &&
			keys.FieldID[r] == keys.FieldID[start] &&
			keys.SpectralWindow[r] == keys.SpectralWindow[start] &&
			bin(keys.Time[r]) == bin(keys.Time[start]) {
			continue
		}
		rows := storage.RowRange{Start: start, End: r}
		chunks = append(chunks, chunkSpan{
			rows: rows,
			spw:  keys.SpectralWindow[start],
			subs: splitSubchunks(keys.Time, rows, maxRows),
		})
		start = r
	}
	return chunks
}

func splitSubchunks(times []float64, rows storage.RowRange, maxRows int) []storage.RowRange {
	var subs []storage.RowRange
	start := rows.Start
	for r := rows.Start + 1; r <= rows.End; r++ {
		if r < rows.End && times[r] == times[start] && (maxRows <= 0 || r-start < maxRows) {
			continue
		}
		subs = append(subs, storage.RowRange{Start: start, End: r})
		start = r
	}
	return subs
}
