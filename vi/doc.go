// Package vi implements the layered visibility iterator: the navigation
// contract, the base iterator that reads sub-chunks from a storage table,
// the transform-layer decorator and the factory chain that assembles a
// stack from configuration records.
//
// A stack is built innermost first:
//
//	it, err := vi.Chain(ctx, vi.Base(st, "obs"), []vi.LayerFactory{smoothing.Factory()},
//		[]config.Record{{"kernelWidth": 5, "edgePolicy": "copy"}}, vi.Env{})
//
// Errors match one of ErrStorage, ErrConfiguration, ErrTransform,
// ErrUnsupportedOperation, ErrInvalidState or ErrInvalidArgument.
package vi
