// Package kdf implements the protocol's single key-derivation function:
// HKDF (RFC 5869) over the digest collaborator. It is stateless.
package kdf
