package identity

import (
	"errors"
	"fmt"
	"unicode"

	"microratchet/internal/crypto"
	"microratchet/internal/domain"
	"microratchet/internal/util/memzero"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	// ErrNoIdentity is returned when no identity has been generated yet.
	ErrNoIdentity = errors.New("no identity stored; run keygen first")
)

// Opener returns the storage holding the identity, sealed with passphrase.
type Opener func(passphrase string) domain.Storage

// Service manages the long-term Ed25519 signing key that authenticates the
// handshake. The key is kept as its 32-byte seed in passphrase-sealed
// storage.
type Service struct {
	open Opener
}

// New returns an identity service over the given storage opener.
func New(open Opener) *Service { return &Service{open: open} }

// GenerateIdentity creates a new signing key, stores it sealed with the
// passphrase and returns it with a short fingerprint of its public key.
func (s *Service) GenerateIdentity(passphrase string) (*crypto.Ed25519Signer, string, error) {
	if !isSecurePassphrase(passphrase) {
		return nil, "", ErrWeakPassphrase
	}
	signer, seed, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, "", err
	}
	defer memzero.Zero(seed)
	if err := s.open(passphrase).Store(seed); err != nil {
		return nil, "", fmt.Errorf("store identity: %w", err)
	}
	return signer, crypto.Fingerprint(signer.PublicKey()), nil
}

// LoadIdentity opens and returns the stored signing key.
func (s *Service) LoadIdentity(passphrase string) (*crypto.Ed25519Signer, error) {
	seed, err := s.open(passphrase).Load()
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, ErrNoIdentity
	}
	defer memzero.Zero(seed)
	return crypto.NewEd25519Signer(seed)
}

// FingerprintIdentity returns a short fingerprint of the stored public key.
func (s *Service) FingerprintIdentity(passphrase string) (string, error) {
	signer, err := s.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(signer.PublicKey()), nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
