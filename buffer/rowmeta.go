package buffer

// EdgePolicy describes how a smoothing layer treated the spectral edges of a row.
type EdgePolicy uint8

const (
	// EdgeNone means the row was not smoothed.
	EdgeNone EdgePolicy = iota
	// EdgeCopy means edge channels were copied unchanged and flagged.
	EdgeCopy
	// EdgeTruncate means edge channels were smoothed with a truncated kernel.
	EdgeTruncate
)

func (p EdgePolicy) String() string {
	switch p {
	case EdgeCopy:
		return "copy"
	case EdgeTruncate:
		return "truncate"
	default:
		return "none"
	}
}

// RowMeta annotates a single buffer row.
type RowMeta struct {
	// SourceRow is the storage row the data was read from, or -1 when the row
	// was synthesized by a layer (for example by averaging).
	SourceRow int64

	// Edge is the smoothing edge policy applied to the row.
	Edge EdgePolicy
	// EdgeWidth is the number of channels at each spectral edge that the
	// smoothing kernel did not fully cover.
	EdgeWidth int

	// Counts is the number of input rows merged into this row (0 or 1 for
	// rows that were not averaged).
	Counts int
}

const rowMetaSize = 32

// IsEdgeChannel reports whether channel c of row r lies inside the edge band
// recorded by a smoothing layer.
func (b *Buffer) IsEdgeChannel(c, r int) bool {
	m := b.Meta[r]
	if m.Edge == EdgeNone || m.EdgeWidth == 0 {
		return false
	}
	return c < m.EdgeWidth || c >= b.nChan-m.EdgeWidth
}
