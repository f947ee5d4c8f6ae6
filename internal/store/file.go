package store

import (
	"sync"

	"microratchet/internal/domain"
)

// stateFileMode keeps state files private to the owner.
const stateFileMode = 0o600

// File keeps the state in a single file. With a passphrase the bytes are
// sealed in a scrypt (or argon2id) + ChaCha20-Poly1305 envelope; without
// one they are written as is.
type File struct {
	path       string
	passphrase string
	params     kdfParams
	mu         sync.Mutex
}

// NewFile returns a File store at path.
func NewFile(path, passphrase string) *File {
	return &File{path: path, passphrase: passphrase, params: kdfParams{Scrypt: DefaultScryptParams}}
}

// WithScryptParams sets the scrypt cost used for subsequent writes.
func (f *File) WithScryptParams(p ScryptParams) *File {
	f.params = kdfParams{Scrypt: p}
	return f
}

// WithArgon2Params switches subsequent writes to argon2id. Files written
// with either KDF can always be read.
func (f *File) WithArgon2Params(p Argon2Params) *File {
	f.params = kdfParams{Argon2: &p}
	return f
}

// Load reads and, if needed, opens the file. A missing file yields nil.
func (f *File) Load() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := readFile(f.path)
	if err != nil || b == nil {
		return nil, err
	}
	if f.passphrase == "" {
		return b, nil
	}
	return open(f.passphrase, b)
}

// Store atomically replaces the file contents.
func (f *File) Store(state []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.passphrase == "" {
		return writeFile(f.path, state, stateFileMode)
	}
	b, err := seal(f.passphrase, state, f.params)
	if err != nil {
		return err
	}
	return writeFile(f.path, b, stateFileMode)
}

// Compile-time assertion that File implements domain.Storage.
var _ domain.Storage = (*File)(nil)
