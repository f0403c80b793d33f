package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_ResetShape(t *testing.T) {
	b := New()
	b.Reset(2, 4, 3)

	p, c, r := b.Shape()
	assert.Equal(t, 2, p)
	assert.Equal(t, 4, c)
	assert.Equal(t, 3, r)
	assert.Len(t, b.Data, 24)
	assert.Len(t, b.Flags, 24)
	assert.Len(t, b.Weight, 6)
	assert.Len(t, b.UVW, 9)
	assert.Len(t, b.Frequencies, 4)
	require.NoError(t, b.Validate())

	for _, m := range b.Meta {
		assert.Equal(t, int64(-1), m.SourceRow)
	}
}

func TestBuffer_ResetReusesCapacity(t *testing.T) {
	b := New()
	b.Reset(2, 8, 10)
	b.Data[0] = 1 + 2i
	b.Flags[5] = true
	b.RowFlags.Add(3)
	data := b.Data

	b.Reset(2, 8, 5)
	assert.Same(t, &data[0], &b.Data[0], "smaller reset must reuse backing array")
	assert.Equal(t, complex64(0), b.Data[0])
	assert.False(t, b.Flags[5])
	assert.True(t, b.RowFlags.IsEmpty())
}

func TestBuffer_IndexLayout(t *testing.T) {
	b := New()
	b.Reset(2, 3, 2)

	// polarization varies fastest, then channel, then row
	assert.Equal(t, 0, b.Index(0, 0, 0))
	assert.Equal(t, 1, b.Index(1, 0, 0))
	assert.Equal(t, 2, b.Index(0, 1, 0))
	assert.Equal(t, 6, b.Index(0, 0, 1))

	b.Data[b.Index(1, 2, 1)] = 7
	assert.Equal(t, complex64(7), b.DataRow(1)[5])
}

func TestBuffer_ValidateDetectsMismatch(t *testing.T) {
	b := New()
	b.Reset(1, 4, 2)
	b.Time = b.Time[:1]
	assert.Error(t, b.Validate())

	b.Reset(1, 4, 2)
	b.Data = b.Data[:3]
	assert.Error(t, b.Validate())
}

func TestBuffer_Clone(t *testing.T) {
	b := New()
	b.Reset(1, 2, 2)
	b.Data[1] = 3
	b.RowFlags.Add(1)

	c := b.Clone()
	b.Data[1] = 9
	b.RowFlags.Remove(1)

	assert.Equal(t, complex64(3), c.Data[1])
	assert.True(t, c.RowFlags.Contains(1))
	require.NoError(t, c.Validate())
}

func TestBuffer_ReshapeChannels(t *testing.T) {
	b := New()
	b.Reset(2, 4, 3)
	b.Time[2] = 42

	b.ReshapeChannels(7)
	assert.Equal(t, 7, b.Channels())
	assert.Len(t, b.Data, 2*7*3)
	assert.Equal(t, 42.0, b.Time[2])
	require.NoError(t, b.Validate())
}

func TestBuffer_IsEdgeChannel(t *testing.T) {
	b := New()
	b.Reset(1, 8, 1)
	assert.False(t, b.IsEdgeChannel(0, 0))

	b.Meta[0].Edge = EdgeCopy
	b.Meta[0].EdgeWidth = 2
	assert.True(t, b.IsEdgeChannel(1, 0))
	assert.False(t, b.IsEdgeChannel(2, 0))
	assert.True(t, b.IsEdgeChannel(6, 0))
	assert.Equal(t, "copy", EdgeCopy.String())
}
