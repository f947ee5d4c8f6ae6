// Package wire encodes steady-state frames:
//
//	encHeader(4|36) ‖ encPayload ‖ tag(12)
//
// The header holds a 31-bit generation and, when bit 31 is set, the
// sender's 32-byte DH public key. The payload is padded and encrypted in
// counter mode under a single-use message key; the header is encrypted
// under the step's header key with the tail of the encrypted payload as
// IV, and the tag covers both under the same header key.
package wire
