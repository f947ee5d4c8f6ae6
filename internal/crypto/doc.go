// Package crypto is the default primitive backend behind the domain
// collaborator contracts.
//
// Contents
//
//   - X25519 key agreement (X25519, X25519Factory)
//   - Ed25519 long-term signing and verification (Ed25519Signer,
//     Ed25519Verifier, GenerateEd25519)
//   - SHA-256 digest, AES block cipher factory, HMAC-SHA256 MAC
//   - NewServices bundling all of the above into domain.Services
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// The protocol layers never import this package; they receive a
// domain.Services value. Any other backend with the same key, digest and
// block sizes can be substituted.
package crypto
