package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"hash"

	"microratchet/internal/domain"
)

// SHA256 implements domain.Digest.
type SHA256 struct{}

// Size returns the digest length.
func (SHA256) Size() int { return sha256.Size }

// New returns a streaming SHA-256.
func (SHA256) New() hash.Hash { return sha256.New() }

// AES implements domain.BlockCipherFactory with AES-128 or AES-256.
type AES struct{}

// NewBlock returns an AES block cipher keyed with key.
func (AES) NewBlock(key []byte) (cipher.Block, error) { return aes.NewCipher(key) }

// HMACSHA256 implements domain.MAC as HMAC-SHA256(key, iv ‖ data).
type HMACSHA256 struct{}

// Compute returns the full 32-byte tag.
func (HMACSHA256) Compute(key, iv, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(iv)
	m.Write(data)
	return m.Sum(nil)
}

var (
	_ domain.Digest             = SHA256{}
	_ domain.BlockCipherFactory = AES{}
	_ domain.MAC                = HMACSHA256{}
)
