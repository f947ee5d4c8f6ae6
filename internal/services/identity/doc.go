// Package identity manages creation and loading of the local long-term
// signing key.
//
// It enforces passphrase policy, generates the Ed25519 key and persists its
// seed through passphrase-sealed storage.
package identity
