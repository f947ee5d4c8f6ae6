package wire

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"microratchet/internal/domain"
)

const (
	headerSize   = 4
	dhHeaderSize = headerSize + domain.KeySize
	dhFlag       = 1 << 31

	// MinFrameSize is the smallest frame that can carry a header, the
	// shortest payload and a tag.
	MinFrameSize = headerSize + domain.BlockSize + domain.MacSize
)

// Header is the plaintext frame header.
type Header struct {
	Generation uint32
	PublicKey  []byte // nil when the frame carries no DH key
}

// Size returns the encoded header length.
func (h Header) Size() int {
	if h.PublicKey != nil {
		return dhHeaderSize
	}
	return headerSize
}

func (h Header) encode() []byte {
	out := make([]byte, h.Size())
	v := h.Generation
	if h.PublicKey != nil {
		v |= dhFlag
		copy(out[headerSize:], h.PublicKey)
	}
	binary.BigEndian.PutUint32(out, v)
	return out
}

// Codec frames steady-state messages.
type Codec struct {
	Cipher domain.BlockCipherFactory
	MAC    domain.MAC

	MinimumMessageSize int
	MaximumMessageSize int
}

// NewCodec returns a Codec over the primitives in svc.
func NewCodec(svc domain.Services, minSize, maxSize int) Codec {
	return Codec{Cipher: svc.Cipher, MAC: svc.MAC, MinimumMessageSize: minSize, MaximumMessageSize: maxSize}
}

// PaddedSize returns the encrypted payload length for a plaintext of n
// bytes behind header h.
func (c Codec) PaddedSize(h Header, n int) int {
	size := c.MinimumMessageSize - h.Size() - domain.MacSize
	if size < domain.BlockSize {
		size = domain.BlockSize
	}
	if n > size {
		size = n
	}
	return size
}

// MaxPayload returns the largest payload that still fits a frame carrying
// a DH key.
func (c Codec) MaxPayload() int {
	return c.MaximumMessageSize - dhHeaderSize - domain.MacSize
}

// Fits reports whether a payload of n bytes fits a frame behind h.
func (c Codec) Fits(h Header, n int) bool {
	return h.Size()+c.PaddedSize(h, n)+domain.MacSize <= c.MaximumMessageSize
}

// Seal builds a frame. messageKey must never be reused.
func (c Codec) Seal(headerKey, messageKey []byte, h Header, payload []byte) ([]byte, error) {
	if h.Generation&dhFlag != 0 {
		return nil, fmt.Errorf("%w: generation %d overflows header", domain.ErrSizeViolation, h.Generation)
	}
	if h.PublicKey != nil && len(h.PublicKey) != domain.KeySize {
		return nil, fmt.Errorf("%w: header public key is %d bytes", domain.ErrSizeViolation, len(h.PublicKey))
	}
	if !c.Fits(h, len(payload)) {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds frame", domain.ErrSizeViolation, len(payload))
	}

	hs := h.Size()
	ps := c.PaddedSize(h, len(payload))
	frame := make([]byte, hs+ps+domain.MacSize)
	body := frame[:hs+ps]
	encPayload := body[hs:]
	copy(encPayload, payload)

	if err := c.xor(messageKey, make([]byte, domain.BlockSize), encPayload); err != nil {
		return nil, err
	}
	copy(body, h.encode())
	iv := encPayload[len(encPayload)-domain.BlockSize:]
	if err := c.xor(headerKey, iv, body[:hs]); err != nil {
		return nil, err
	}
	copy(frame[hs+ps:], c.tag(headerKey, body))
	return frame, nil
}

// Authenticate reports whether frame carries a valid tag under headerKey.
func (c Codec) Authenticate(headerKey, frame []byte) bool {
	if len(frame) < MinFrameSize || len(headerKey) == 0 {
		return false
	}
	body, tag := split(frame)
	return subtle.ConstantTimeCompare(c.tag(headerKey, body), tag) == 1
}

// OpenHeader decrypts the header of an authenticated frame.
func (c Codec) OpenHeader(headerKey, frame []byte) (Header, error) {
	if len(frame) < MinFrameSize {
		return Header{}, fmt.Errorf("%w: frame of %d bytes", domain.ErrAuthentication, len(frame))
	}
	body, _ := split(frame)
	iv := body[len(body)-domain.BlockSize:]

	plain := append([]byte(nil), body[:headerSize]...)
	if err := c.xor(headerKey, iv, plain); err != nil {
		return Header{}, err
	}
	v := binary.BigEndian.Uint32(plain)
	h := Header{Generation: v &^ dhFlag}
	if v&dhFlag == 0 {
		return h, nil
	}
	if len(body) < dhHeaderSize+domain.BlockSize {
		return Header{}, fmt.Errorf("%w: DH header does not fit frame", domain.ErrProtocolViolation)
	}
	plain = append([]byte(nil), body[:dhHeaderSize]...)
	if err := c.xor(headerKey, iv, plain); err != nil {
		return Header{}, err
	}
	h.PublicKey = plain[headerSize:]
	return h, nil
}

// OpenPayload decrypts the padded payload of a frame whose header is h.
func (c Codec) OpenPayload(messageKey, frame []byte, h Header) ([]byte, error) {
	body, _ := split(frame)
	if len(body) < h.Size()+domain.BlockSize {
		return nil, fmt.Errorf("%w: payload too short", domain.ErrProtocolViolation)
	}
	out := append([]byte(nil), body[h.Size():]...)
	if err := c.xor(messageKey, make([]byte, domain.BlockSize), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c Codec) tag(key, body []byte) []byte {
	return c.MAC.Compute(key, body[:domain.BlockSize], body)[:domain.MacSize]
}

func (c Codec) xor(key, iv, buf []byte) error {
	block, err := c.Cipher.NewBlock(key)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	cipher.NewCTR(block, iv).XORKeyStream(buf, buf)
	return nil
}

func split(frame []byte) (body, tag []byte) {
	n := len(frame) - domain.MacSize
	return frame[:n], frame[n:]
}
