package message

import (
	"encoding/binary"
	"fmt"
	"io"

	"microratchet/internal/protocol/multipart"
	"microratchet/internal/services/session"
)

// Service sends and receives payloads of any size over a session.
//
// Every payload is split into fragments that each fit one frame carrying a
// DH key. Received fragments are reassembled in memory; incomplete payloads
// are not persisted and are dropped after the configured number of ticks.
type Service struct {
	session   *session.Session
	assembler *multipart.Assembler
	random    io.Reader

	sequence uint16
	seeded   bool
}

// New wraps sess. The fragment capacity always matches what sess can carry;
// other assembler options are passed through.
func New(sess *session.Session, random io.Reader, opts ...multipart.Option) *Service {
	opts = append(opts, multipart.WithFragmentCapacity(sess.MaxPayload()-multipart.HeaderSize))
	return &Service{
		session:   sess,
		assembler: multipart.New(opts...),
		random:    random,
	}
}

// Send encrypts payload into one or more frames, in fragment order.
// Sequences start at a random value and count up per payload.
func (s *Service) Send(payload []byte) ([][]byte, error) {
	if !s.seeded {
		var seq [2]byte
		if _, err := io.ReadFull(s.random, seq[:]); err != nil {
			return nil, fmt.Errorf("multipart sequence: %w", err)
		}
		s.sequence, s.seeded = binary.BigEndian.Uint16(seq[:]), true
	}
	frags, err := multipart.Split(payload, s.assembler.Capacity(), s.sequence)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, 0, len(frags))
	for _, f := range frags {
		frame, err := s.session.Send(f.Encode())
		if err != nil {
			return nil, fmt.Errorf("send fragment %d/%d: %w", f.Index+1, f.Total, err)
		}
		frames = append(frames, frame)
	}
	s.sequence++
	return frames, nil
}

// Receive passes frame to the session. Payload is set once a whole
// multipart payload has arrived; ToSend carries handshake replies.
func (s *Service) Receive(frame []byte) (*session.ReceiveResult, error) {
	res, err := s.session.Receive(frame)
	if err != nil || res.Payload == nil {
		return res, err
	}
	f, err := multipart.Decode(res.Payload)
	if err != nil {
		return nil, err
	}
	payload, err := s.assembler.IngestFragment(f)
	if err != nil {
		return nil, err
	}
	return &session.ReceiveResult{Payload: payload, ToSend: res.ToSend}, nil
}

// Tick ages incomplete payloads and returns how many were dropped.
func (s *Service) Tick() int { return s.assembler.Tick() }

// Pending returns the number of incomplete payloads.
func (s *Service) Pending() int { return s.assembler.Pending() }
