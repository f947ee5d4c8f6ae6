package crypto

import (
	"crypto/rand"

	"microratchet/internal/domain"
)

// NewServices returns the default primitive backend: SHA-256, AES, HMAC-SHA256,
// X25519 and Ed25519, with crypto/rand as the random source.
func NewServices(signer domain.Signer) domain.Services {
	return domain.Services{
		Digest:       SHA256{},
		Cipher:       AES{},
		MAC:          HMACSHA256{},
		KeyAgreement: X25519Factory{Random: rand.Reader},
		Signer:       signer,
		Verifier:     Ed25519Verifier{},
		Random:       rand.Reader,
	}
}
