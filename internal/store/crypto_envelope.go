package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// Envelope format versions: 1 is scrypt, 2 adds the kdf field for argon2id.
	envelopeScryptVersion = 1
	envelopeKDFVersion    = 2

	kdfArgon2id = "argon2id"
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// ciphertext has been modified.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted envelope")
)

// ScryptParams are the scrypt cost parameters recorded in each envelope.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams is used when a store is built without explicit
// parameters.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// Argon2Params are the argon2id cost parameters. Memory is in KiB.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
var DefaultArgon2Params = Argon2Params{Time: 3, Memory: 64 << 10, Threads: 4}

// kdfParams selects the passphrase KDF; Argon2 wins when set.
type kdfParams struct {
	Scrypt ScryptParams
	Argon2 *Argon2Params
}

// blob is the on-disk JSON structure holding the ciphertext and KDF parameters.
type blob struct {
	V       int    `json:"v"`
	KDF     string `json:"kdf,omitempty"`
	Salt    []byte `json:"salt"`
	N       int    `json:"scrypt_N,omitempty"`
	R       int    `json:"scrypt_r,omitempty"`
	P       int    `json:"scrypt_p,omitempty"`
	Time    uint32 `json:"argon2_t,omitempty"`
	Memory  uint32 `json:"argon2_m,omitempty"`
	Threads uint8  `json:"argon2_p,omitempty"`
	Cipher  []byte `json:"cipher"`
}

func (bl *blob) key(passphrase string) ([]byte, error) {
	switch bl.KDF {
	case "":
		return scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
	case kdfArgon2id:
		if bl.Time == 0 || bl.Memory == 0 || bl.Threads == 0 {
			return nil, errors.New("envelope: invalid argon2id parameters")
		}
		return argon2.IDKey([]byte(passphrase), bl.Salt, bl.Time, bl.Memory, bl.Threads, chacha20poly1305.KeySize), nil
	default:
		return nil, fmt.Errorf("envelope: unknown kdf %q", bl.KDF)
	}
}

// seal derives a key from passphrase and seals raw into a JSON blob.
func seal(passphrase string, raw []byte, params kdfParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	bl := blob{V: envelopeScryptVersion, Salt: salt[:]}
	if a := params.Argon2; a != nil {
		bl.V, bl.KDF = envelopeKDFVersion, kdfArgon2id
		bl.Time, bl.Memory, bl.Threads = a.Time, a.Memory, a.Threads
	} else {
		bl.N, bl.R, bl.P = params.Scrypt.N, params.Scrypt.R, params.Scrypt.P
	}
	key, err := bl.key(passphrase)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte // zero nonce; the salt-bound key is never reused
	bl.Cipher = aead.Seal(nil, nonce[:], raw, salt[:])
	return json.Marshal(bl)
}

// open decrypts a JSON blob using a key derived from passphrase.
func open(passphrase string, b []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if bl.V > envelopeKDFVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", bl.V)
	}

	key, err := bl.key(passphrase)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, bl.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
