package multipart

import (
	"encoding/binary"
	"fmt"

	"microratchet/internal/domain"
)

// HeaderSize is the encoded fragment header length.
const HeaderSize = 6

// MaxFragments is the most fragments one payload can be split into.
const MaxFragments = 255

// Fragment is one piece of a multipart payload.
type Fragment struct {
	Sequence uint16
	Index    uint8
	Total    uint8
	Data     []byte
}

// Encode returns seq(2) ‖ index(1) ‖ total(1) ‖ length(2) ‖ data.
func (f Fragment) Encode() []byte {
	out := make([]byte, HeaderSize+len(f.Data))
	binary.BigEndian.PutUint16(out[0:], f.Sequence)
	out[2] = f.Index
	out[3] = f.Total
	binary.BigEndian.PutUint16(out[4:], uint16(len(f.Data)))
	copy(out[HeaderSize:], f.Data)
	return out
}

// Decode parses an encoded fragment. Bytes after the declared length, such
// as frame padding, are ignored.
func Decode(b []byte) (Fragment, error) {
	if len(b) < HeaderSize {
		return Fragment{}, fmt.Errorf("%w: fragment of %d bytes", domain.ErrProtocolViolation, len(b))
	}
	f := Fragment{
		Sequence: binary.BigEndian.Uint16(b[0:]),
		Index:    b[2],
		Total:    b[3],
	}
	n := int(binary.BigEndian.Uint16(b[4:]))
	if HeaderSize+n > len(b) {
		return Fragment{}, fmt.Errorf("%w: fragment declares %d bytes, has %d", domain.ErrProtocolViolation, n, len(b)-HeaderSize)
	}
	if f.Total == 0 || f.Index >= f.Total {
		return Fragment{}, fmt.Errorf("%w: fragment %d of %d", domain.ErrProtocolViolation, f.Index, f.Total)
	}
	f.Data = append([]byte(nil), b[HeaderSize:HeaderSize+n]...)
	return f, nil
}

// Split cuts payload into fragments of at most capacity data bytes.
func Split(payload []byte, capacity int, sequence uint16) ([]Fragment, error) {
	if capacity <= 0 || capacity > 0xffff {
		return nil, fmt.Errorf("%w: fragment capacity %d", domain.ErrSizeViolation, capacity)
	}
	total := (len(payload) + capacity - 1) / capacity
	if total == 0 {
		total = 1
	}
	if total > MaxFragments {
		return nil, fmt.Errorf("%w: payload needs %d fragments", domain.ErrSizeViolation, total)
	}
	out := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		end := (i + 1) * capacity
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, Fragment{
			Sequence: sequence,
			Index:    uint8(i),
			Total:    uint8(total),
			Data:     append([]byte(nil), payload[i*capacity:end]...),
		})
	}
	return out, nil
}
