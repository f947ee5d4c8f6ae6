package ratchet

import (
	"microratchet/internal/domain"
	"microratchet/internal/protocol/kdf"
	"microratchet/internal/util/memzero"
)

// Step is one Diffie-Hellman ratchet step.
//
// Only the newest step of a Chain keeps KeyPair, NextRootKey and the next
// header keys; they are needed to derive the step that follows. Sending is
// nil once the step is retired from sending, Receiving is nil for the
// client's first, send-only step.
type Step struct {
	KeyPair              domain.KeyAgreement
	NextRootKey          []byte
	ReceiveHeaderKey     []byte
	NextReceiveHeaderKey []byte
	SendHeaderKey        []byte
	NextSendHeaderKey    []byte

	Receiving *SymmetricChain
	Sending   *SymmetricChain
}

// CanSend reports whether the step still has a sending chain.
func (s *Step) CanSend() bool { return s.Sending != nil && len(s.SendHeaderKey) > 0 }

// CanReceive reports whether the step has a receiving chain.
func (s *Step) CanReceive() bool { return s.Receiving != nil && len(s.ReceiveHeaderKey) > 0 }

// HasTransients reports whether the step still carries the material
// needed to ratchet forward.
func (s *Step) HasTransients() bool { return s.KeyPair != nil && len(s.NextRootKey) > 0 }

// Zero wipes every secret held by the step.
func (s *Step) Zero() {
	s.retireTransients()
	s.retireSending()
	if s.Receiving != nil {
		s.Receiving.Zero()
		s.Receiving = nil
	}
	memzero.Zero(s.ReceiveHeaderKey)
	s.ReceiveHeaderKey = nil
}

func (s *Step) retireTransients() {
	if s.KeyPair != nil {
		s.KeyPair.Zero()
		s.KeyPair = nil
	}
	memzero.All(s.NextRootKey, s.NextReceiveHeaderKey, s.NextSendHeaderKey)
	s.NextRootKey, s.NextReceiveHeaderKey, s.NextSendHeaderKey = nil, nil, nil
}

func (s *Step) retireSending() {
	if s.Sending != nil {
		s.Sending.Zero()
		s.Sending = nil
	}
	memzero.Zero(s.SendHeaderKey)
	s.SendHeaderKey = nil
}

// Ratchet derives the step that follows previous once remotePublic is
// observed. previous must still carry its transients; keyPair becomes the
// local key of the new step. previous is not modified.
func Ratchet(d domain.Digest, previous *Step, remotePublic []byte, keyPair domain.KeyAgreement) (*Step, error) {
	recvSecret, err := previous.KeyPair.DeriveKey(remotePublic)
	if err != nil {
		return nil, err
	}
	root1, recvCK, nextRecvHK, err := deriveRoot(d, previous.NextRootKey, recvSecret)
	memzero.Zero(recvSecret)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(root1)

	sendSecret, err := keyPair.DeriveKey(remotePublic)
	if err != nil {
		memzero.All(recvCK, nextRecvHK)
		return nil, err
	}
	root2, sendCK, nextSendHK, err := deriveRoot(d, root1, sendSecret)
	memzero.Zero(sendSecret)
	if err != nil {
		memzero.All(recvCK, nextRecvHK)
		return nil, err
	}

	return &Step{
		KeyPair:              keyPair,
		NextRootKey:          root2,
		ReceiveHeaderKey:     clone(previous.NextReceiveHeaderKey),
		NextReceiveHeaderKey: nextRecvHK,
		SendHeaderKey:        clone(previous.NextSendHeaderKey),
		NextSendHeaderKey:    nextSendHK,
		Receiving:            NewSymmetricChain(recvCK, 0),
		Sending:              NewSymmetricChain(sendCK, 0),
	}, nil
}

// InitializeClient builds the client's first two steps from the handshake
// output: a send-only step keyed by local against remote0, then a full
// step against remote1 with next as the new local key. local's private
// half is wiped before returning.
func InitializeClient(d domain.Digest, rootKey, firstSendHK, firstReceiveHK []byte,
	local, next domain.KeyAgreement, remote0, remote1 []byte) ([]*Step, error) {
	secret, err := local.DeriveKey(remote0)
	if err != nil {
		return nil, err
	}
	root1, sendCK, nextSendHK, err := deriveRoot(d, rootKey, secret)
	memzero.Zero(secret)
	if err != nil {
		return nil, err
	}

	first := &Step{
		SendHeaderKey: clone(firstSendHK),
		Sending:       NewSymmetricChain(sendCK, 0),
	}
	bridge := &Step{
		KeyPair:              local,
		NextRootKey:          root1,
		NextReceiveHeaderKey: clone(firstReceiveHK),
		NextSendHeaderKey:    nextSendHK,
	}
	second, err := Ratchet(d, bridge, remote1, next)
	bridge.retireTransients()
	if err != nil {
		first.Zero()
		return nil, err
	}
	return []*Step{first, second}, nil
}

// InitializeServer builds the server's first step. r0 is the key the
// client's first step was derived against, r1 the key of the new step and
// remote the client's first ratchet public key.
func InitializeServer(d domain.Digest, rootKey, firstSendHK, firstReceiveHK []byte,
	r0, r1 domain.KeyAgreement, remote []byte) (*Step, error) {
	bridge := &Step{
		KeyPair:              r0,
		NextRootKey:          rootKey,
		NextReceiveHeaderKey: firstReceiveHK,
		NextSendHeaderKey:    firstSendHK,
	}
	return Ratchet(d, bridge, remote, r1)
}

// deriveRoot splits KDF(rootKey, secret) into the next root key, a chain
// key and the next header key of the same direction.
func deriveRoot(d domain.Digest, rootKey, secret []byte) (root, ck, hk []byte, err error) {
	out, err := kdf.Derive(d, rootKey, secret, 3*domain.KeySize)
	if err != nil {
		return nil, nil, nil, err
	}
	parts := kdf.Split(out, domain.KeySize, domain.KeySize, domain.KeySize)
	memzero.Zero(out)
	return parts[0], parts[1], parts[2], nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
