package crypto

import (
	"encoding/hex"
	"fmt"
)

// Hex returns lowercase hex encoding.
func Hex(b []byte) string { return hex.EncodeToString(b) }

// ParseKeyHex decodes a hex string that must hold exactly size bytes.
func ParseKeyHex(s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("want %d bytes, got %d", size, len(b))
	}
	return b, nil
}
