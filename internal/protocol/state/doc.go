// Package state encodes a session's persisted state.
//
// The layout is a flags byte, the role-specific handshake transients, the
// ratchet steps newest first as tagged records, and a bounded section of
// lost message keys. Each step is written with the smallest record that
// holds its live fields; the codec rejects a chain whose shape does not
// match what the ratchet can produce, on write as well as on read.
package state
