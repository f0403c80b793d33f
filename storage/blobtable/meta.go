package blobtable

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/hupe1980/vistream/storage"
)

const metaVersion = 1

// tableMeta is persisted as <path>/table.json.
type tableMeta struct {
	Version      int            `json:"version"`
	Schema       storage.Schema `json:"schema"`
	NumRows      int            `json:"num_rows"`
	RowsPerBlock int            `json:"rows_per_block"`
	Compression  string         `json:"compression"`
}

func metaName(path string) string { return path + "/table.json" }

func blockName(path string, col storage.Column, idx int) string {
	return fmt.Sprintf("%s/%s/%d.blk", path, col, idx)
}

func (m *tableMeta) numBlocks() int {
	if m.NumRows == 0 {
		return 0
	}
	return (m.NumRows + m.RowsPerBlock - 1) / m.RowsPerBlock
}

func encodeMeta(m *tableMeta) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decodeMeta(data []byte) (*tableMeta, error) {
	var m tableMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: table metadata: %v", storage.ErrCorrupt, err)
	}
	if m.Version != metaVersion {
		return nil, fmt.Errorf("%w: unsupported metadata version %d", storage.ErrCorrupt, m.Version)
	}
	if m.RowsPerBlock <= 0 || m.NumRows < 0 {
		return nil, fmt.Errorf("%w: invalid block layout", storage.ErrCorrupt)
	}
	if _, err := ParseCompression(m.Compression); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	if err := m.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	return &m, nil
}
