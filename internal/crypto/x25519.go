package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"microratchet/internal/domain"
	"microratchet/internal/util/memzero"
)

var errBadPrivateKey = errors.New("x25519 private key must be 32 bytes")

// X25519 is a Curve25519 keypair implementing domain.KeyAgreement.
type X25519 struct {
	priv []byte
	pub  []byte
}

// PublicKey returns the public half.
func (k *X25519) PublicKey() []byte { return k.pub }

// PrivateKey returns the clamped private half.
func (k *X25519) PrivateKey() []byte { return k.priv }

// DeriveKey computes X25519 Diffie-Hellman with remotePublic.
func (k *X25519) DeriveKey(remotePublic []byte) ([]byte, error) {
	if len(remotePublic) != domain.KeySize {
		return nil, fmt.Errorf("x25519: remote public key must be %d bytes, got %d", domain.KeySize, len(remotePublic))
	}
	return curve25519.X25519(k.priv, remotePublic)
}

// Zero wipes the private half.
func (k *X25519) Zero() { memzero.Zero(k.priv) }

// X25519Factory generates and restores X25519 keypairs.
type X25519Factory struct {
	Random io.Reader // defaults to crypto/rand
}

// Generate returns a fresh Curve25519 keypair.
// The private key is clamped per RFC 7748.
func (f X25519Factory) Generate() (domain.KeyAgreement, error) {
	r := f.Random
	if r == nil {
		r = rand.Reader
	}
	priv := make([]byte, domain.KeySize)
	if _, err := io.ReadFull(r, priv); err != nil {
		return nil, err
	}
	clamp(priv)
	return newX25519(priv)
}

// Deserialize restores a keypair from its private half.
func (f X25519Factory) Deserialize(private []byte) (domain.KeyAgreement, error) {
	if len(private) != domain.KeySize {
		return nil, errBadPrivateKey
	}
	return newX25519(append([]byte(nil), private...))
}

func newX25519(priv []byte) (*X25519, error) {
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &X25519{priv: priv, pub: pub}, nil
}

func clamp(kb []byte) {
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}

// Compile-time assertion that X25519Factory implements domain.KeyAgreementFactory.
var _ domain.KeyAgreementFactory = X25519Factory{}
