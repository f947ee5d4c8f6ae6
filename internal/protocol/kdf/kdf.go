package kdf

import (
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"microratchet/internal/domain"
)

// maxBlocks is the HKDF limit on output blocks per expansion.
const maxBlocks = 255

var info = []byte("microratchet|kdf")

// Derive expands a (key, context) pair into n pseudorandom bytes.
//
// The key is the HKDF salt and the context is the input keying material,
// so a chain key stepped with a constant context and a root key mixed with
// a DH secret use the same construction.
func Derive(d domain.Digest, key, context []byte, n int) ([]byte, error) {
	if n <= 0 || n > maxBlocks*d.Size() {
		return nil, fmt.Errorf("kdf: cannot derive %d bytes with a %d-byte digest", n, d.Size())
	}
	r := hkdf.New(d.New, context, key, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("kdf: %w", err)
	}
	return out, nil
}

// Split cuts b into consecutive pieces of the given sizes. Each piece is a
// fresh copy so the caller may zero b afterwards.
func Split(b []byte, sizes ...int) [][]byte {
	out := make([][]byte, 0, len(sizes))
	off := 0
	for _, n := range sizes {
		out = append(out, append([]byte(nil), b[off:off+n]...))
		off += n
	}
	return out
}
