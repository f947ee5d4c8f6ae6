package state

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"microratchet/internal/domain"
	"microratchet/internal/protocol/handshake"
	"microratchet/internal/protocol/ratchet"
)

const (
	flagClient      = 1 << 0
	flagEstablished = 1 << 1
	flagPending     = 1 << 2
	flagPeer        = 1 << 3

	// MaxLostKeys bounds the lost keys written across all steps.
	MaxLostKeys = 128
)

// Record tags. Zero terminates a section.
const (
	tagEnd      byte = 0
	tagFull     byte = 1
	tagSendRecv byte = 2
	tagSendOnly byte = 3
	tagRecvOnly byte = 4

	tagLostKey byte = 1
)

// Store writes s to w, keeping at most ratchetsToKeep of the newest steps
// and at most MaxLostKeys lost keys.
func Store(w io.Writer, s *State, ratchetsToKeep int) error {
	return store(w, s, ratchetsToKeep, MaxLostKeys)
}

// Snapshot writes every step and every lost key of s to w. Load restores
// it exactly; it is meant for in-process rollback, not for storage.
func Snapshot(w io.Writer, s *State) error {
	return store(w, s, 0, -1)
}

// store writes s, bounding the lost keys to maxLost unless it is negative.
func store(w io.Writer, s *State, ratchetsToKeep, maxLost int) error {
	e := &encoder{w: w}
	e.writeHeader(s)

	n := s.Chain.Len()
	if ratchetsToKeep > 0 && n > ratchetsToKeep {
		n = ratchetsToKeep
	}
	for age := 0; age < n; age++ {
		tag, err := recordTag(s.Chain.At(age))
		if err != nil {
			return err
		}
		if err := checkPosition(age, tag); err != nil {
			return err
		}
		if tag == tagSendOnly && age != n-1 {
			return fmt.Errorf("%w: send-only step at age %d is not the oldest", domain.ErrCorruptState, age)
		}
		e.writeRecord(tag, s.Chain.At(age))
	}
	e.u8(tagEnd)

	for _, lk := range selectLostKeys(s.Chain, n, maxLost) {
		e.u8(tagLostKey)
		e.u8(byte(lk.age))
		e.u32(lk.Generation)
		e.bytes(lk.Key, domain.MessageKeySize)
	}
	e.u8(tagEnd)
	return e.err
}

// Load reads a state written by Store. depth is the capacity of the
// restored chain.
func Load(r io.Reader, f domain.KeyAgreementFactory, depth int) (*State, error) {
	d := &decoder{r: r, f: f}
	s := d.readHeader()

	var newestFirst []*ratchet.Step
	prev := tagEnd
	for d.err == nil {
		tag := d.u8()
		if d.err != nil || tag == tagEnd {
			break
		}
		age := len(newestFirst)
		if prev == tagSendOnly {
			d.fail("send-only record at age %d is not the oldest", age-1)
			break
		}
		if err := checkPosition(age, tag); err != nil {
			d.err = err
			break
		}
		newestFirst = append(newestFirst, d.readRecord(tag))
		prev = tag
	}

	for d.err == nil {
		tag := d.u8()
		if d.err != nil || tag == tagEnd {
			break
		}
		if tag != tagLostKey {
			d.fail("unknown lost key tag %d", tag)
			break
		}
		age := int(d.u8())
		gen := d.u32()
		key := d.bytes(domain.MessageKeySize)
		if d.err != nil {
			break
		}
		if age >= len(newestFirst) || newestFirst[age].Receiving == nil {
			d.fail("lost key for age %d has no receiving chain", age)
			break
		}
		newestFirst[age].Receiving.RestoreLostKey(gen, key)
	}
	if d.err != nil {
		for _, st := range newestFirst {
			st.Zero()
		}
		s.Zero()
		return nil, d.err
	}

	steps := make([]*ratchet.Step, len(newestFirst))
	for i, st := range newestFirst {
		steps[len(steps)-1-i] = st
	}
	s.Chain = ratchet.RestoreChain(depth, steps)
	return s, nil
}

func (e *encoder) writeHeader(s *State) {
	var flags byte
	if s.IsClient {
		flags |= flagClient
	}
	if s.Established {
		flags |= flagEstablished
	}
	if s.IsClient {
		if s.Ephemeral != nil {
			flags |= flagPending
		}
		if s.Nonce != nil {
			flags |= flagPeer
		}
	} else {
		if s.Pending != nil {
			flags |= flagPending
		}
		if s.Nonce != nil && s.RemotePublicKey != nil {
			flags |= flagPeer
		}
	}
	e.u8(flags)

	switch {
	case s.IsClient:
		if flags&flagPending != 0 {
			e.bytes(s.Ephemeral.PrivateKey(), domain.KeySize)
		}
		if flags&flagPeer != 0 {
			e.bytes(s.Nonce, domain.NonceSize)
		}
	default:
		if p := s.Pending; p != nil {
			e.bytes(p.RootKey, domain.KeySize)
			e.bytes(p.R0.PrivateKey(), domain.KeySize)
			e.bytes(p.R1.PrivateKey(), domain.KeySize)
			e.bytes(p.FirstSendHeaderKey, domain.KeySize)
			e.bytes(p.FirstReceiveHeaderKey, domain.KeySize)
		}
		if flags&flagPeer != 0 {
			e.bytes(s.Nonce, domain.NonceSize)
			e.bytes(s.RemotePublicKey, domain.KeySize)
		}
	}
}

func (d *decoder) readHeader() *State {
	flags := d.u8()
	if flags&^(flagClient|flagEstablished|flagPending|flagPeer) != 0 {
		d.fail("unknown flags %#x", flags)
	}
	s := &State{IsClient: flags&flagClient != 0, Established: flags&flagEstablished != 0}
	if s.IsClient {
		if flags&flagPending != 0 {
			s.Ephemeral = d.keyPair()
		}
		if flags&flagPeer != 0 {
			s.Nonce = d.bytes(domain.NonceSize)
		}
		return s
	}
	if flags&flagPending != 0 {
		s.Pending = &handshake.ServerSecrets{}
		s.Pending.RootKey = d.bytes(domain.KeySize)
		s.Pending.R0 = d.keyPair()
		s.Pending.R1 = d.keyPair()
		s.Pending.FirstSendHeaderKey = d.bytes(domain.KeySize)
		s.Pending.FirstReceiveHeaderKey = d.bytes(domain.KeySize)
	}
	if flags&flagPeer != 0 {
		s.Nonce = d.bytes(domain.NonceSize)
		s.RemotePublicKey = d.bytes(domain.KeySize)
	}
	return s
}

func (e *encoder) writeRecord(tag byte, s *ratchet.Step) {
	e.u8(tag)
	switch tag {
	case tagFull:
		e.bytes(s.KeyPair.PrivateKey(), domain.KeySize)
		e.bytes(s.NextRootKey, domain.KeySize)
		e.bytes(s.ReceiveHeaderKey, domain.KeySize)
		e.bytes(s.NextReceiveHeaderKey, domain.KeySize)
		e.bytes(s.SendHeaderKey, domain.KeySize)
		e.bytes(s.NextSendHeaderKey, domain.KeySize)
		e.chain(s.Receiving)
		e.chain(s.Sending)
	case tagSendRecv:
		e.bytes(s.ReceiveHeaderKey, domain.KeySize)
		e.chain(s.Receiving)
		e.bytes(s.SendHeaderKey, domain.KeySize)
		e.chain(s.Sending)
	case tagSendOnly:
		e.bytes(s.SendHeaderKey, domain.KeySize)
		e.chain(s.Sending)
	case tagRecvOnly:
		e.bytes(s.ReceiveHeaderKey, domain.KeySize)
		e.chain(s.Receiving)
	}
}

func (d *decoder) readRecord(tag byte) *ratchet.Step {
	s := &ratchet.Step{}
	switch tag {
	case tagFull:
		s.KeyPair = d.keyPair()
		s.NextRootKey = d.bytes(domain.KeySize)
		s.ReceiveHeaderKey = d.bytes(domain.KeySize)
		s.NextReceiveHeaderKey = d.bytes(domain.KeySize)
		s.SendHeaderKey = d.bytes(domain.KeySize)
		s.NextSendHeaderKey = d.bytes(domain.KeySize)
		s.Receiving = d.chain()
		s.Sending = d.chain()
	case tagSendRecv:
		s.ReceiveHeaderKey = d.bytes(domain.KeySize)
		s.Receiving = d.chain()
		s.SendHeaderKey = d.bytes(domain.KeySize)
		s.Sending = d.chain()
	case tagSendOnly:
		s.SendHeaderKey = d.bytes(domain.KeySize)
		s.Sending = d.chain()
	case tagRecvOnly:
		s.ReceiveHeaderKey = d.bytes(domain.KeySize)
		s.Receiving = d.chain()
	}
	return s
}

// recordTag picks the record shape for a step, or fails when the step
// fits none of them.
func recordTag(s *ratchet.Step) (byte, error) {
	switch {
	case s.HasTransients() && s.CanSend() && s.CanReceive() &&
		len(s.NextReceiveHeaderKey) > 0 && len(s.NextSendHeaderKey) > 0:
		return tagFull, nil
	case s.CanSend() && s.CanReceive():
		return tagSendRecv, nil
	case s.CanSend():
		return tagSendOnly, nil
	case s.CanReceive():
		return tagRecvOnly, nil
	}
	return tagEnd, fmt.Errorf("%w: step has neither side", domain.ErrCorruptState)
}

// checkPosition enforces the record shape allowed at each age.
func checkPosition(age int, tag byte) error {
	var ok bool
	switch age {
	case 0:
		ok = tag == tagFull
	case 1:
		ok = tag == tagSendRecv || tag == tagSendOnly
	default:
		ok = tag == tagRecvOnly
	}
	if !ok {
		return fmt.Errorf("%w: record tag %d not allowed at age %d", domain.ErrCorruptState, tag, age)
	}
	return nil
}

type agedLostKey struct {
	ratchet.LostKey
	age int
}

// selectLostKeys picks up to max keys, newest step first and the highest
// generation first within a step, and orders them by age then generation.
// A negative max selects every key.
func selectLostKeys(c *ratchet.Chain, steps, max int) []agedLostKey {
	var out []agedLostKey
	full := func() bool { return max >= 0 && len(out) >= max }
	for age := 0; age < steps && !full(); age++ {
		s := c.At(age)
		if s.Receiving == nil {
			continue
		}
		lost := s.Receiving.LostKeys()
		for i := len(lost) - 1; i >= 0 && !full(); i-- {
			out = append(out, agedLostKey{LostKey: lost[i], age: age})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].age != out[j].age {
			return out[i].age < out[j].age
		}
		return out[i].Generation < out[j].Generation
	})
	return out
}

type encoder struct {
	w   io.Writer
	err error
	buf [4]byte
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u8(b byte) {
	e.buf[0] = b
	e.write(e.buf[:1])
}

func (e *encoder) u32(v uint32) {
	binary.BigEndian.PutUint32(e.buf[:], v)
	e.write(e.buf[:])
}

func (e *encoder) bytes(b []byte, size int) {
	if e.err == nil && len(b) != size {
		e.err = fmt.Errorf("%w: field is %d bytes, want %d", domain.ErrCorruptState, len(b), size)
	}
	e.write(b)
}

func (e *encoder) chain(c *ratchet.SymmetricChain) {
	e.u32(c.Generation)
	e.bytes(c.ChainKey, domain.KeySize)
}

type decoder struct {
	r   io.Reader
	f   domain.KeyAgreementFactory
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{domain.ErrCorruptState}, args...)...)
	}
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("%w: %w", domain.ErrCorruptState, err)
		return nil
	}
	return b
}

func (d *decoder) u8() byte {
	b := d.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) keyPair() domain.KeyAgreement {
	priv := d.bytes(domain.KeySize)
	if d.err != nil {
		return nil
	}
	kp, err := d.f.Deserialize(priv)
	if err != nil {
		d.err = fmt.Errorf("%w: %w", domain.ErrCorruptState, err)
		return nil
	}
	return kp
}

func (d *decoder) chain() *ratchet.SymmetricChain {
	gen := d.u32()
	ck := d.bytes(domain.KeySize)
	if d.err != nil {
		return nil
	}
	return ratchet.NewSymmetricChain(ck, gen)
}
