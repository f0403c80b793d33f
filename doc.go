// Package vistream streams large columnar visibility tables through an
// ordered stack of transforms while keeping one navigation and buffer-access
// contract at every layer.
//
// A table is visited in chunks (rows sharing field, spectral window and a
// time bin) and every chunk in sub-chunks (rows sharing one time):
//
//	h, _ := vistream.NewPipeline(store, "obs/main").
//	    ChunkInterval(60).
//	    Smooth(smoothing.Hanning, 5, buffer.EdgeTruncate).
//	    Build(ctx)
//	defer h.Close()
//
//	for h.OriginChunks(ctx); h.MoreChunks(); h.NextChunk(ctx) {
//	    for h.Origin(ctx); h.More(); h.Next(ctx) {
//	        buf, err := h.Buffer(ctx)
//	        ...
//	    }
//	}
//
// Or, with error handling folded into the loop:
//
//	for buf, err := range h.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
//
// # Layers
//
// Layers are applied in the order given, each wrapping the previous one.
// The built-ins live under transform/:
//
//   - smoothing: FIR smoothing along the channel axis
//   - regridding: resampling onto a new frequency grid
//   - calibration: correction factors from a calibration source
//   - averaging: time averaging of baselines across sub-chunks
//   - materialize: terminal writer into a new table
//
// # Writes
//
// Write support is a capability of the stack's outermost component. Writes
// through calibration, regridding or averaging fail with
// ErrUnsupportedOperation; a materialize layer on top accepts them and
// stores them in its output table.
//
// # Configuration
//
// Stacks can be described in YAML and built with BuildFromYAML against a
// Registry:
//
//	base:
//	  table: obs/main
//	  chunkInterval: 60
//	layers:
//	  - type: smoothing
//	    config: {kernelWidth: 5, edgePolicy: copy}
package vistream
