package session

import (
	"bytes"
	"crypto/subtle"
	"fmt"

	"microratchet/internal/domain"
	"microratchet/internal/protocol/handshake"
	"microratchet/internal/protocol/ratchet"
	"microratchet/internal/protocol/state"
	"microratchet/internal/protocol/wire"
	"microratchet/internal/util/logger"
	"microratchet/internal/util/memzero"
)

// ReceiveResult is the outcome of Receive. Payload is the decrypted,
// still padded application payload; ToSend is a frame the caller must
// deliver to the peer. Either may be nil.
type ReceiveResult struct {
	Payload []byte
	ToSend  []byte
}

// Session is one endpoint of a conversation.
//
// Every call works on the in-memory state; SaveState writes it through the
// storage collaborator. A call that fails leaves the state as it was.
// Session is not safe for concurrent use.
type Session struct {
	cfg     Config
	svc     domain.Services
	storage domain.Storage
	log     *logger.Logger

	codec wire.Codec
	hs    handshake.Protocol
	st    *state.State
}

// New loads the session held by storage, or starts a fresh one when the
// storage is empty. log may be nil.
func New(cfg Config, svc domain.Services, storage domain.Storage, log *logger.Logger) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		svc:     svc,
		storage: storage,
		log:     log.Named("session"),
		codec:   wire.NewCodec(svc, cfg.MinimumMessageSize, cfg.MaximumMessageSize),
		hs: handshake.Protocol{
			Services:           svc,
			ApplicationKey:     cfg.ApplicationKey,
			MinimumMessageSize: cfg.MinimumMessageSize,
		},
	}

	raw, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if len(raw) == 0 {
		s.st = state.New(cfg.IsClient, cfg.NumberOfRatchetsToKeep)
		return s, nil
	}
	st, err := state.Load(bytes.NewReader(raw), svc.KeyAgreement, cfg.NumberOfRatchetsToKeep)
	if err != nil {
		return nil, err
	}
	if st.IsClient != cfg.IsClient {
		st.Zero()
		return nil, fmt.Errorf("%w: stored role %s does not match configured role", domain.ErrCorruptState, role(st.IsClient))
	}
	s.st = st
	return s, nil
}

// IsClient reports the fixed role.
func (s *Session) IsClient() bool { return s.st.IsClient }

// IsInitialized reports whether the handshake has completed.
func (s *Session) IsInitialized() bool { return s.st.Established }

// PublicKey returns the local long-term public key.
func (s *Session) PublicKey() []byte { return s.svc.Signer.PublicKey() }

// RemotePublicKey returns the peer's long-term key: the client's key as
// seen by a server, or the pinned server key on a client.
func (s *Session) RemotePublicKey() []byte {
	if s.st.IsClient {
		return s.cfg.RemotePublicKey
	}
	return s.st.RemotePublicKey
}

// MaxPayload returns the largest payload Send accepts without falling back
// to a frame without DH key.
func (s *Session) MaxPayload() int { return s.codec.MaxPayload() }

// Steps returns the number of retained ratchet steps.
func (s *Session) Steps() int { return s.st.Chain.Len() }

// InitiateInitialization starts, or restarts, the handshake and returns
// the client hello. Only a client may call it.
func (s *Session) InitiateInitialization() ([]byte, error) {
	if !s.st.IsClient {
		return nil, fmt.Errorf("%w: only a client initiates", domain.ErrProtocolViolation)
	}
	frame, eph, nonce, err := s.hs.NewClientHello()
	if err != nil {
		return nil, err
	}
	s.resetHandshake()
	s.st.Ephemeral = eph
	s.st.Nonce = nonce
	s.log.Info("client hello sent")
	return frame, nil
}

// Send encrypts payload for the peer.
func (s *Session) Send(payload []byte) ([]byte, error) {
	if !s.st.Established {
		return nil, fmt.Errorf("%w: session is not initialized", domain.ErrProtocolViolation)
	}
	var frame []byte
	err := s.transact(func() error {
		plan, err := s.codec.PlanSend(s.st.Chain, len(payload))
		if err != nil {
			return err
		}
		frame, err = s.sendOn(plan, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// Receive processes one frame from the peer. A frame that does not
// authenticate under any known key fails with domain.ErrAuthentication.
func (s *Session) Receive(frame []byte) (*ReceiveResult, error) {
	var res *ReceiveResult
	err := s.transact(func() (err error) {
		if res, err = s.receive(frame); err != nil {
			return err
		}
		if n := s.st.Chain.TrimLostKeys(state.MaxLostKeys); n > 0 {
			s.log.Debug("lost keys evicted", "role", role(s.st.IsClient), "count", n)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("frame rejected", "role", role(s.st.IsClient), "size", len(frame), "error", err)
		return nil, err
	}
	return res, nil
}

// SaveState writes the state through the storage collaborator.
func (s *Session) SaveState() error {
	var buf bytes.Buffer
	if err := state.Store(&buf, s.st, s.cfg.NumberOfRatchetsToKeep); err != nil {
		return err
	}
	defer memzero.Zero(buf.Bytes())
	if err := s.storage.Store(buf.Bytes()); err != nil {
		return fmt.Errorf("store state: %w", err)
	}
	return nil
}

// Close wipes the in-memory state.
func (s *Session) Close() {
	s.st.Zero()
}

func (s *Session) receive(frame []byte) (*ReceiveResult, error) {
	if m, ok := s.codec.Resolve(s.st.Chain, frame); ok {
		payload, err := s.open(m, frame)
		if err != nil {
			return nil, err
		}
		return s.deliver(payload)
	}
	if p := s.st.Pending; p != nil && s.codec.Authenticate(p.FirstReceiveHeaderKey, frame) {
		return s.receiveClientAck(frame)
	}
	if kind, ok := s.hs.Recognize(frame); ok {
		switch {
		case kind == handshake.KindClientHello && !s.st.IsClient:
			return s.receiveClientHello(frame)
		case kind == handshake.KindServerHello && s.st.IsClient:
			return s.receiveServerHello(frame)
		default:
			return nil, fmt.Errorf("%w: %s received by %s", domain.ErrProtocolViolation, kind, role(s.st.IsClient))
		}
	}
	return nil, fmt.Errorf("%w: no key matched frame", domain.ErrAuthentication)
}

// open decrypts a frame resolved to a step, ratcheting first when the
// frame was sealed under the newest step's next header key.
func (s *Session) open(m wire.Match, frame []byte) ([]byte, error) {
	h, err := s.codec.OpenHeader(m.Key, frame)
	if err != nil {
		return nil, err
	}
	step := s.st.Chain.At(m.Age)
	if m.Next {
		if h.PublicKey == nil {
			return nil, fmt.Errorf("%w: next header key without DH key", domain.ErrProtocolViolation)
		}
		kp, err := s.svc.KeyAgreement.Generate()
		if err != nil {
			return nil, err
		}
		next, err := ratchet.Ratchet(s.svc.Digest, step, h.PublicKey, kp)
		if err != nil {
			kp.Zero()
			return nil, err
		}
		s.st.Chain.Append(next)
		step = next
		s.log.Debug("ratchet advanced", "role", role(s.st.IsClient), "steps", s.st.Chain.Len())
	}
	mk, err := step.Receiving.RatchetForReceiving(s.svc.Digest, h.Generation)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(mk)
	return s.codec.OpenPayload(mk, frame, h)
}

// deliver hands a decrypted payload to the caller, completing the client's
// handshake on the server ack.
func (s *Session) deliver(payload []byte) (*ReceiveResult, error) {
	if s.st.Established {
		return &ReceiveResult{Payload: payload}, nil
	}
	if !s.st.IsClient || s.st.Nonce == nil {
		return nil, fmt.Errorf("%w: frame before handshake completed", domain.ErrProtocolViolation)
	}
	if !echoes(payload, s.st.Nonce) {
		return nil, fmt.Errorf("%w: server ack does not echo the client nonce", domain.ErrProtocolViolation)
	}
	memzero.Zero(s.st.Nonce)
	s.st.Nonce = nil
	s.st.Established = true
	s.log.Info("handshake complete", "role", "client")
	return &ReceiveResult{}, nil
}

func (s *Session) receiveClientHello(frame []byte) (*ReceiveResult, error) {
	hello, err := s.hs.ParseClientHello(frame)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(hello.ClientPublicKey, s.st.RemotePublicKey) && bytes.Equal(hello.Nonce, s.st.Nonce) {
		return nil, fmt.Errorf("%w: client hello repeated", domain.ErrReplay)
	}
	resp, secrets, err := s.hs.NewServerHello(hello)
	if err != nil {
		return nil, err
	}
	if s.st.Chain.Len() > 0 || s.st.Pending != nil {
		s.log.Info("client reinitialized", "established", s.st.Established)
	}
	s.resetHandshake()
	s.st.Pending = secrets
	s.st.Nonce = append([]byte(nil), hello.Nonce...)
	s.st.RemotePublicKey = append([]byte(nil), hello.ClientPublicKey...)
	s.log.Info("server hello sent")
	return &ReceiveResult{ToSend: resp}, nil
}

func (s *Session) receiveServerHello(frame []byte) (*ReceiveResult, error) {
	if s.st.Ephemeral == nil {
		return nil, fmt.Errorf("%w: no client hello outstanding", domain.ErrProtocolViolation)
	}
	hello, err := s.hs.ParseServerHello(frame, s.st.Ephemeral, s.st.Nonce, s.cfg.RemotePublicKey)
	if err != nil {
		return nil, err
	}
	defer memzero.All(hello.RootKey, hello.FirstSendHeaderKey, hello.FirstReceiveHeaderKey)

	local, err := s.svc.KeyAgreement.Generate()
	if err != nil {
		return nil, err
	}
	localPub := append([]byte(nil), local.PublicKey()...)
	next, err := s.svc.KeyAgreement.Generate()
	if err != nil {
		local.Zero()
		return nil, err
	}
	steps, err := ratchet.InitializeClient(s.svc.Digest, hello.RootKey,
		hello.FirstSendHeaderKey, hello.FirstReceiveHeaderKey, local, next, hello.R0, hello.R1)
	if err != nil {
		local.Zero()
		next.Zero()
		return nil, err
	}
	s.st.ClearPending()
	s.st.Chain.Reset()
	s.st.Chain.Append(steps...)

	// The ack goes out on the send-only step, carrying the key it was derived from.
	ack, err := s.seal(s.st.Chain.SecondNewest(), localPub, s.st.Nonce)
	if err != nil {
		return nil, err
	}
	s.log.Info("client ack sent")
	return &ReceiveResult{ToSend: ack}, nil
}

func (s *Session) receiveClientAck(frame []byte) (*ReceiveResult, error) {
	p := s.st.Pending
	h, err := s.codec.OpenHeader(p.FirstReceiveHeaderKey, frame)
	if err != nil {
		return nil, err
	}
	if h.PublicKey == nil {
		return nil, fmt.Errorf("%w: client ack without DH key", domain.ErrProtocolViolation)
	}
	step, err := ratchet.InitializeServer(s.svc.Digest, p.RootKey, p.FirstSendHeaderKey, p.FirstReceiveHeaderKey, p.R0, p.R1, h.PublicKey)
	if err != nil {
		return nil, err
	}
	mk, err := step.Receiving.RatchetForReceiving(s.svc.Digest, h.Generation)
	if err != nil {
		step.Zero()
		return nil, err
	}
	payload, err := s.codec.OpenPayload(mk, frame, h)
	memzero.Zero(mk)
	if err != nil {
		step.Zero()
		return nil, err
	}
	if !echoes(payload, s.st.Nonce) {
		step.Zero()
		return nil, fmt.Errorf("%w: client ack does not echo the client nonce", domain.ErrProtocolViolation)
	}

	// R1 lives on as the new step's key pair.
	p.R1 = nil
	s.st.ClearPending()
	s.st.Chain.Reset()
	s.st.Chain.Append(step)
	s.st.Established = true
	s.log.Info("handshake complete", "role", "server")

	ack, err := s.sendOn(wire.SendPlan{Age: 0, IncludeDH: true}, s.st.Nonce)
	if err != nil {
		return nil, err
	}
	return &ReceiveResult{ToSend: ack}, nil
}

func (s *Session) sendOn(plan wire.SendPlan, payload []byte) ([]byte, error) {
	step := s.st.Chain.At(plan.Age)
	var pub []byte
	if plan.IncludeDH {
		pub = step.KeyPair.PublicKey()
	}
	return s.seal(step, pub, payload)
}

func (s *Session) seal(step *ratchet.Step, pub, payload []byte) ([]byte, error) {
	if step == nil || !step.CanSend() {
		return nil, fmt.Errorf("%w: step cannot send", domain.ErrProtocolViolation)
	}
	mk, gen, err := step.Sending.RatchetForSending(s.svc.Digest)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(mk)
	return s.codec.Seal(step.SendHeaderKey, mk, wire.Header{Generation: gen, PublicKey: pub}, payload)
}

// transact runs fn and restores the state it started from when fn fails.
// The snapshot keeps every step and lost key.
func (s *Session) transact(fn func() error) error {
	var snap bytes.Buffer
	if err := state.Snapshot(&snap, s.st); err != nil {
		return err
	}
	defer memzero.Zero(snap.Bytes())
	if err := fn(); err != nil {
		restored, lerr := state.Load(bytes.NewReader(snap.Bytes()), s.svc.KeyAgreement, s.cfg.NumberOfRatchetsToKeep)
		if lerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, lerr)
		}
		s.st.Zero()
		s.st = restored
		return err
	}
	return nil
}

func (s *Session) resetHandshake() {
	s.st.ClearPending()
	s.st.Chain.Reset()
	memzero.Zero(s.st.Nonce)
	s.st.Nonce = nil
	s.st.Established = false
}

func echoes(payload, nonce []byte) bool {
	return len(nonce) == domain.NonceSize && len(payload) >= domain.NonceSize &&
		subtle.ConstantTimeCompare(payload[:domain.NonceSize], nonce) == 1
}

func role(isClient bool) string { return domain.RoleFor(isClient).String() }
