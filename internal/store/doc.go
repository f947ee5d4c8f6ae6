// Package store provides the byte storage backends a session persists its
// state through.
//
// The package includes:
//   - Memory, for tests and in-process simulations
//   - File, a single file written atomically, optionally sealed with a
//     passphrase (scrypt or argon2id + ChaCha20-Poly1305)
//   - LevelDB, one database holding many named sessions
//
// All backends implement domain.Storage and are safe for concurrent use.
package store
