// Package testutil provides testing utilities for vistream.
//
// This package is intended for use in tests and benchmarks only.
// It generates deterministic synthetic visibility tables.
//
//	rng := testutil.NewRNG(seed)
//	schema, cols := rng.Generate(testutil.TableSpec{Antennas: 4, Times: 6})
//
//	st := memtable.New()
//	schema, n, err := testutil.Populate(ctx, st, "obs", testutil.TableSpec{}, rng)
package testutil
