// Package config holds layer configuration records, the schemas they are
// validated against, and the YAML pipeline description format.
//
// A Record is an untyped key/value map as produced by a YAML or JSON
// decoder. Each layer type declares a Schema; Schema.Validate rejects
// unknown keys, missing required keys, wrongly typed and out-of-range
// values, and returns a normalized copy with defaults applied. The
// normalized record is what a layer reads, through the typed accessors.
//
//	schema := config.Schema{
//		config.Int("kernelWidth").Required().Range(3, 1025),
//		config.String("edgePolicy").Required().OneOf("copy", "truncate"),
//	}
//	rec, err := schema.Validate(config.Record{"kernelWidth": 5, "edgePolicy": "copy"})
package config
