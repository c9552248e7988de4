// Package protocol owns the wire contract shared with the embedded peer.
//
// Ownership boundary:
// - endpoint identifiers and command opcodes
// - float32 value and chunk encoding
// - weight vector layout derived from layer sizes
//
// Every constant in this package is part of a closed compatibility contract with
// the device firmware. Changing one breaks interoperability.
package protocol
