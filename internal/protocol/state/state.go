package state

import (
	"microratchet/internal/domain"
	"microratchet/internal/protocol/handshake"
	"microratchet/internal/protocol/ratchet"
	"microratchet/internal/util/memzero"
)

// State is everything a session persists between calls.
type State struct {
	IsClient    bool
	Established bool

	// Client pending: the ephemeral key sent in the client hello.
	Ephemeral domain.KeyAgreement

	// Nonce is the client's own initialization nonce, or on the server the
	// nonce of the last accepted client hello.
	Nonce []byte

	// Server pending: the secrets kept between server hello and client ack.
	Pending *handshake.ServerSecrets

	// RemotePublicKey is the client's long-term key, kept by the server.
	RemotePublicKey []byte

	Chain *ratchet.Chain
}

// New returns an empty state for the given role.
func New(isClient bool, depth int) *State {
	return &State{IsClient: isClient, Chain: ratchet.NewChain(depth)}
}

// ClearPending wipes the handshake transients of either role.
func (s *State) ClearPending() {
	if s.Ephemeral != nil {
		s.Ephemeral.Zero()
		s.Ephemeral = nil
	}
	if s.Pending != nil {
		s.Pending.Zero()
		s.Pending = nil
	}
}

// Zero wipes every secret in the state.
func (s *State) Zero() {
	s.ClearPending()
	memzero.Zero(s.Nonce)
	s.Nonce = nil
	if s.Chain != nil {
		s.Chain.Reset()
	}
}
