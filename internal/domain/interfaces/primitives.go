package interfaces

import (
	"crypto/cipher"
	"hash"
	"io"
)

// Digest is a fixed-output cryptographic hash.
type Digest interface {
	// Size returns the digest length in bytes. It bounds the KDF output.
	Size() int
	// New returns a fresh streaming hash, used by the KDF.
	New() hash.Hash
}

// BlockCipherFactory builds a 16-byte block cipher from a 16 or 32 byte key.
type BlockCipherFactory interface {
	NewBlock(key []byte) (cipher.Block, error)
}

// MAC computes a keyed authentication tag. Callers truncate the tag.
type MAC interface {
	Compute(key, iv, data []byte) []byte
}

// KeyAgreement is a Diffie-Hellman keypair.
type KeyAgreement interface {
	PublicKey() []byte
	// PrivateKey returns the serialised private half.
	PrivateKey() []byte
	// DeriveKey computes the shared secret with a remote public key.
	DeriveKey(remotePublic []byte) ([]byte, error)
	// Zero wipes the private half.
	Zero()
}

// KeyAgreementFactory generates and restores KeyAgreement keypairs.
type KeyAgreementFactory interface {
	Generate() (KeyAgreement, error)
	Deserialize(private []byte) (KeyAgreement, error)
}

// Signer signs with the local long-term key.
type Signer interface {
	PublicKey() []byte
	Sign(data []byte) ([]byte, error)
}

// Verifier checks long-term signatures.
type Verifier interface {
	Verify(publicKey, data, signature []byte) bool
}

// Services bundles every primitive the protocol consumes.
type Services struct {
	Digest       Digest
	Cipher       BlockCipherFactory
	MAC          MAC
	KeyAgreement KeyAgreementFactory
	Signer       Signer
	Verifier     Verifier
	Random       io.Reader
}
