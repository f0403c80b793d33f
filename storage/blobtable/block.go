package blobtable

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/vistream/internal/hash"
	"github.com/hupe1980/vistream/storage"
)

// Block layout (little endian):
//
//	[magic "VSBK"][version u8][codec u8][kind u8][reserved u8]
//	[count u32][rawSize u32][storedSize u32][crc32c u32][payload...]
//
// The checksum covers the stored (possibly compressed) payload.
const (
	blockMagic      = "VSBK"
	blockVersion    = 1
	blockHeaderSize = 24
)

type elemKind uint8

const (
	kindFloat64 elemKind = iota + 1
	kindFloat32
	kindInt32
	kindBool
	kindComplex64
)

func kindOf(col storage.Column) elemKind {
	switch col.Kind() {
	case "[]float64":
		return kindFloat64
	case "[]float32":
		return kindFloat32
	case "[]int32":
		return kindInt32
	case "[]bool":
		return kindBool
	case "[]complex64":
		return kindComplex64
	}
	return 0
}

func (k elemKind) size() int {
	switch k {
	case kindFloat64, kindComplex64:
		return 8
	case kindFloat32, kindInt32:
		return 4
	case kindBool:
		return 1
	}
	return 0
}

// encodeBlock serializes a typed column slice into a block.
func encodeBlock(data any, c Compression) ([]byte, error) {
	raw, kind, count, err := marshalElems(data)
	if err != nil {
		return nil, err
	}
	payload, used, err := compress(raw, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, blockHeaderSize+len(payload))
	copy(out, blockMagic)
	out[4] = blockVersion
	out[5] = byte(used)
	out[6] = byte(kind)
	binary.LittleEndian.PutUint32(out[8:], uint32(count))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[16:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[20:], hash.CRC32C(payload))
	copy(out[blockHeaderSize:], payload)
	return out, nil
}

// decodeBlock parses a block written by encodeBlock for column col.
func decodeBlock(b []byte, col storage.Column) (any, error) {
	if len(b) < blockHeaderSize || string(b[:4]) != blockMagic {
		return nil, fmt.Errorf("%w: bad block header", storage.ErrCorrupt)
	}
	if b[4] != blockVersion {
		return nil, fmt.Errorf("%w: unsupported block version %d", storage.ErrCorrupt, b[4])
	}
	codec := Compression(b[5])
	kind := elemKind(b[6])
	if kind != kindOf(col) {
		return nil, fmt.Errorf("%w: block kind %d does not match column %s", storage.ErrCorrupt, kind, col)
	}
	count := int(binary.LittleEndian.Uint32(b[8:]))
	rawSize := int(binary.LittleEndian.Uint32(b[12:]))
	stored := int(binary.LittleEndian.Uint32(b[16:]))
	sum := binary.LittleEndian.Uint32(b[20:])

	if len(b) != blockHeaderSize+stored {
		return nil, fmt.Errorf("%w: block truncated", storage.ErrCorrupt)
	}
	payload := b[blockHeaderSize:]
	if !hash.Verify(payload, sum) {
		return nil, fmt.Errorf("%w: block checksum mismatch", storage.ErrCorrupt)
	}
	if rawSize != count*kind.size() {
		return nil, fmt.Errorf("%w: block size mismatch", storage.ErrCorrupt)
	}

	raw, err := decompress(payload, codec, rawSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	return unmarshalElems(raw, kind, count), nil
}

func marshalElems(data any) ([]byte, elemKind, int, error) {
	switch v := data.(type) {
	case []float64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(x))
		}
		return out, kindFloat64, len(v), nil
	case []float32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(x))
		}
		return out, kindFloat32, len(v), nil
	case []int32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[4*i:], uint32(x))
		}
		return out, kindInt32, len(v), nil
	case []bool:
		out := make([]byte, len(v))
		for i, x := range v {
			if x {
				out[i] = 1
			}
		}
		return out, kindBool, len(v), nil
	case []complex64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[8*i:], math.Float32bits(real(x)))
			binary.LittleEndian.PutUint32(out[8*i+4:], math.Float32bits(imag(x)))
		}
		return out, kindComplex64, len(v), nil
	}
	return nil, 0, 0, fmt.Errorf("%w: unsupported payload type %T", storage.ErrColumnType, data)
}

func unmarshalElems(raw []byte, kind elemKind, n int) any {
	switch kind {
	case kindFloat64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return out
	case kindFloat32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		return out
	case kindInt32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		return out
	case kindBool:
		out := make([]bool, n)
		for i := range out {
			out[i] = raw[i] != 0
		}
		return out
	case kindComplex64:
		out := make([]complex64, n)
		for i := range out {
			re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
			out[i] = complex(re, im)
		}
		return out
	}
	return nil
}
