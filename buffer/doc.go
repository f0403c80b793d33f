// Package buffer provides the mutable, reusable container that carries one
// sub-chunk of visibility data through a layer stack.
//
// A Buffer stores per-row columns (time, antennas, weights, row flags),
// per-channel metadata (frequencies) and two cubes of shape (P, C, R): the
// complex visibilities and their flags. Transform layers rewrite a Buffer in
// place; layers that change the channel axis use ReshapeChannels and must
// update Frequencies before returning.
package buffer
