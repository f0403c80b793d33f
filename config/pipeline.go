package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Pipeline is a declarative description of an iterator stack.
//
//	base:
//	  table: obs/main
//	  chunkInterval: 60
//	  maxSubchunkRows: 512
//	layers:
//	  - type: smoothing
//	    config: {kernelWidth: 5, edgePolicy: copy}
//	  - type: regridding
//	    config: {targetGrid: [1.0e9, 1.1e9]}
type Pipeline struct {
	Base   Base    `yaml:"base"`
	Layers []Layer `yaml:"layers"`
}

// Base configures the base iterator.
type Base struct {
	Table           string   `yaml:"table"`
	ChunkInterval   float64  `yaml:"chunkInterval"`
	MaxSubchunkRows int      `yaml:"maxSubchunkRows"`
	Writable        bool     `yaml:"writable"`
	Prefetch        []string `yaml:"prefetch"`
}

// Layer names a registered layer type and its configuration record.
type Layer struct {
	Type   string `yaml:"type"`
	Config Record `yaml:"config"`
}

// ErrPipeline is matched by structural errors in a pipeline description.
var ErrPipeline = errors.New("invalid pipeline")

// ParsePipeline decodes a YAML pipeline. Unknown top-level, base and layer
// keys are rejected; layer records are validated later against their
// layer's schema.
func ParsePipeline(r io.Reader) (*Pipeline, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrPipeline)
		}
		return nil, fmt.Errorf("%w: %v", ErrPipeline, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPipeline reads and parses a pipeline file.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePipeline(bytes.NewReader(data))
}

// Validate checks the structure of the pipeline.
func (p *Pipeline) Validate() error {
	if p.Base.Table == "" {
		return fmt.Errorf("%w: base.table is required", ErrPipeline)
	}
	if p.Base.ChunkInterval < 0 {
		return fmt.Errorf("%w: base.chunkInterval must be >= 0", ErrPipeline)
	}
	if p.Base.MaxSubchunkRows < 0 {
		return fmt.Errorf("%w: base.maxSubchunkRows must be >= 0", ErrPipeline)
	}
	for i, l := range p.Layers {
		if l.Type == "" {
			return fmt.Errorf("%w: layers[%d].type is required", ErrPipeline, i)
		}
	}
	return nil
}

// Configs returns the configuration records of the layers, in order.
// Missing records are returned as empty records.
func (p *Pipeline) Configs() []Record {
	out := make([]Record, len(p.Layers))
	for i, l := range p.Layers {
		if l.Config == nil {
			out[i] = Record{}
		} else {
			out[i] = l.Config
		}
	}
	return out
}

// Marshal encodes the pipeline as YAML.
func (p *Pipeline) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
