package handshake

import (
	"bytes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"microratchet/internal/domain"
	"microratchet/internal/protocol/kdf"
	"microratchet/internal/util/memzero"
)

// Natural sizes of the handshake frames before padding.
const (
	ClientHelloSize = domain.NonceSize + 2*domain.KeySize + domain.SignatureSize + domain.MacSize
	ServerHelloSize = 2*domain.NonceSize + 4*domain.KeySize + domain.SignatureSize + domain.MacSize
)

// Kind tells which handshake frame an application-key tag belongs to.
type Kind byte

const (
	KindClientHello Kind = 1
	KindServerHello Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindClientHello:
		return "client-hello"
	case KindServerHello:
		return "server-hello"
	default:
		return "unknown"
	}
}

var (
	ErrBadSignature  = errors.New("handshake signature invalid")
	ErrBadEcho       = errors.New("handshake nonce echo mismatch")
	ErrUnexpectedKey = errors.New("server public key does not match the pinned key")

	rootPreKeyContext = []byte("microratchet|root pre-key")
	handshakeContext  = []byte("microratchet|handshake")
)

// Protocol builds and parses the two application-key frames.
type Protocol struct {
	Services           domain.Services
	ApplicationKey     []byte
	MinimumMessageSize int
}

// ClientHello is a verified client hello.
type ClientHello struct {
	Nonce              []byte
	ClientPublicKey    []byte
	EphemeralPublicKey []byte
}

// ServerSecrets is what the server keeps between its hello and the client
// ack. FirstSendHeaderKey is server to client.
type ServerSecrets struct {
	RootKey               []byte
	FirstSendHeaderKey    []byte
	FirstReceiveHeaderKey []byte
	R0                    domain.KeyAgreement
	R1                    domain.KeyAgreement
}

// Zero wipes the secrets.
func (s *ServerSecrets) Zero() {
	memzero.All(s.RootKey, s.FirstSendHeaderKey, s.FirstReceiveHeaderKey)
	if s.R0 != nil {
		s.R0.Zero()
	}
	if s.R1 != nil {
		s.R1.Zero()
	}
}

// ServerHello is a verified server hello as seen by the client.
// FirstSendHeaderKey is client to server.
type ServerHello struct {
	ServerPublicKey       []byte
	R0                    []byte
	R1                    []byte
	RootKey               []byte
	FirstSendHeaderKey    []byte
	FirstReceiveHeaderKey []byte
}

// Recognize reports whether frame carries a valid application-key tag and
// of which kind.
func (p Protocol) Recognize(frame []byte) (Kind, bool) {
	if len(frame) < domain.NonceSize+domain.MacSize+domain.KeySize {
		return 0, false
	}
	for _, k := range []Kind{KindClientHello, KindServerHello} {
		if subtle.ConstantTimeCompare(p.tag(k, frame), frame[len(frame)-domain.MacSize:]) == 1 {
			return k, true
		}
	}
	return 0, false
}

// NewClientHello returns a client hello frame together with the ephemeral
// key and nonce the client must keep until the server hello arrives.
func (p Protocol) NewClientHello() (frame []byte, ephemeral domain.KeyAgreement, nonce []byte, err error) {
	nonce, err = p.random(domain.NonceSize)
	if err != nil {
		return nil, nil, nil, err
	}
	ephemeral, err = p.Services.KeyAgreement.Generate()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate ephemeral: %w", err)
	}

	size := p.padded(ClientHelloSize)
	frame = make([]byte, size)
	copy(frame, nonce)
	off := domain.NonceSize
	off += copy(frame[off:], p.Services.Signer.PublicKey())
	copy(frame[off:], ephemeral.PublicKey())
	sigAt := size - domain.MacSize - domain.SignatureSize

	sig, err := p.Services.Signer.Sign(frame[:sigAt])
	if err != nil {
		ephemeral.Zero()
		return nil, nil, nil, fmt.Errorf("sign client hello: %w", err)
	}
	copy(frame[sigAt:], sig)

	if err := p.xor(p.ApplicationKey, nonce, frame[domain.NonceSize:size-domain.MacSize]); err != nil {
		ephemeral.Zero()
		return nil, nil, nil, err
	}
	copy(frame[size-domain.MacSize:], p.tag(KindClientHello, frame))
	return frame, ephemeral, nonce, nil
}

// ParseClientHello decrypts and verifies a client hello whose tag was
// already recognized.
func (p Protocol) ParseClientHello(frame []byte) (*ClientHello, error) {
	if len(frame) < ClientHelloSize {
		return nil, fmt.Errorf("%w: client hello of %d bytes", domain.ErrProtocolViolation, len(frame))
	}
	plain := append([]byte(nil), frame[:len(frame)-domain.MacSize]...)
	nonce := plain[:domain.NonceSize]
	if err := p.xor(p.ApplicationKey, nonce, plain[domain.NonceSize:]); err != nil {
		return nil, err
	}
	sigAt := len(plain) - domain.SignatureSize
	h := &ClientHello{
		Nonce:              nonce,
		ClientPublicKey:    plain[domain.NonceSize : domain.NonceSize+domain.KeySize],
		EphemeralPublicKey: plain[domain.NonceSize+domain.KeySize : domain.NonceSize+2*domain.KeySize],
	}
	if !p.Services.Verifier.Verify(h.ClientPublicKey, plain[:sigAt], plain[sigAt:]) {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrBadSignature)
	}
	return h, nil
}

// NewServerHello answers a verified client hello.
func (p Protocol) NewServerHello(hello *ClientHello) ([]byte, *ServerSecrets, error) {
	nonce, err := p.random(domain.NonceSize)
	if err != nil {
		return nil, nil, err
	}
	e, err := p.Services.KeyAgreement.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("generate ephemeral: %w", err)
	}
	defer e.Zero()

	rootPreKey, rootKey, c2s, s2c, err := p.deriveHandshakeKeys(e, hello.EphemeralPublicKey)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(rootPreKey)

	secrets := &ServerSecrets{RootKey: rootKey, FirstSendHeaderKey: s2c, FirstReceiveHeaderKey: c2s}
	if secrets.R0, err = p.Services.KeyAgreement.Generate(); err != nil {
		secrets.Zero()
		return nil, nil, fmt.Errorf("generate R0: %w", err)
	}
	if secrets.R1, err = p.Services.KeyAgreement.Generate(); err != nil {
		secrets.Zero()
		return nil, nil, fmt.Errorf("generate R1: %w", err)
	}

	size := p.padded(ServerHelloSize)
	frame := make([]byte, size)
	copy(frame, nonce)
	copy(frame[domain.NonceSize:], e.PublicKey())
	payloadAt := domain.NonceSize + domain.KeySize
	off := payloadAt
	off += copy(frame[off:], hello.Nonce)
	off += copy(frame[off:], p.Services.Signer.PublicKey())
	off += copy(frame[off:], secrets.R0.PublicKey())
	copy(frame[off:], secrets.R1.PublicKey())
	sigAt := size - domain.MacSize - domain.SignatureSize

	signed := concat(frame[:sigAt], hello.ClientPublicKey)
	sig, err := p.Services.Signer.Sign(signed)
	if err != nil {
		secrets.Zero()
		return nil, nil, fmt.Errorf("sign server hello: %w", err)
	}
	copy(frame[sigAt:], sig)

	if err := p.xor(p.ApplicationKey, nonce, frame[domain.NonceSize:payloadAt]); err != nil {
		secrets.Zero()
		return nil, nil, err
	}
	if err := p.xor(rootPreKey, nonce, frame[payloadAt:size-domain.MacSize]); err != nil {
		secrets.Zero()
		return nil, nil, err
	}
	copy(frame[size-domain.MacSize:], p.tag(KindServerHello, frame))
	return frame, secrets, nil
}

// ParseServerHello decrypts and verifies a server hello against the
// client's pending ephemeral key and nonce. pinned, when set, must equal
// the server's long-term public key.
func (p Protocol) ParseServerHello(frame []byte, ephemeral domain.KeyAgreement, nonce, pinned []byte) (*ServerHello, error) {
	if len(frame) < ServerHelloSize {
		return nil, fmt.Errorf("%w: server hello of %d bytes", domain.ErrProtocolViolation, len(frame))
	}
	plain := append([]byte(nil), frame[:len(frame)-domain.MacSize]...)
	serverNonce := plain[:domain.NonceSize]
	payloadAt := domain.NonceSize + domain.KeySize
	if err := p.xor(p.ApplicationKey, serverNonce, plain[domain.NonceSize:payloadAt]); err != nil {
		return nil, err
	}

	rootPreKey, rootKey, c2s, s2c, err := p.deriveHandshakeKeys(ephemeral, plain[domain.NonceSize:payloadAt])
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(rootPreKey)
	fail := func(err error) (*ServerHello, error) {
		memzero.All(rootKey, c2s, s2c)
		return nil, err
	}

	if err := p.xor(rootPreKey, serverNonce, plain[payloadAt:]); err != nil {
		return fail(err)
	}
	off := payloadAt
	echo := plain[off : off+domain.NonceSize]
	off += domain.NonceSize
	h := &ServerHello{
		ServerPublicKey:       plain[off : off+domain.KeySize],
		R0:                    plain[off+domain.KeySize : off+2*domain.KeySize],
		R1:                    plain[off+2*domain.KeySize : off+3*domain.KeySize],
		RootKey:               rootKey,
		FirstSendHeaderKey:    c2s,
		FirstReceiveHeaderKey: s2c,
	}
	if subtle.ConstantTimeCompare(echo, nonce) != 1 {
		return fail(fmt.Errorf("%w: %w", domain.ErrProtocolViolation, ErrBadEcho))
	}
	sigAt := len(plain) - domain.SignatureSize
	signed := concat(plain[:sigAt], p.Services.Signer.PublicKey())
	if !p.Services.Verifier.Verify(h.ServerPublicKey, signed, plain[sigAt:]) {
		return fail(fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrBadSignature))
	}
	if len(pinned) > 0 && !bytes.Equal(pinned, h.ServerPublicKey) {
		return fail(fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrUnexpectedKey))
	}
	return h, nil
}

// deriveHandshakeKeys computes the root pre-key from the ephemeral DH and
// expands it into the root key and the two first header keys.
func (p Protocol) deriveHandshakeKeys(local domain.KeyAgreement, remote []byte) (rootPreKey, rootKey, c2s, s2c []byte, err error) {
	secret, err := local.DeriveKey(remote)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: ephemeral agreement: %w", domain.ErrProtocolViolation, err)
	}
	rootPreKey, err = kdf.Derive(p.Services.Digest, secret, rootPreKeyContext, domain.KeySize)
	memzero.Zero(secret)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	out, err := kdf.Derive(p.Services.Digest, rootPreKey, handshakeContext, 3*domain.KeySize)
	if err != nil {
		memzero.Zero(rootPreKey)
		return nil, nil, nil, nil, err
	}
	parts := kdf.Split(out, domain.KeySize, domain.KeySize, domain.KeySize)
	memzero.Zero(out)
	return rootPreKey, parts[0], parts[1], parts[2], nil
}

// tag authenticates everything between the leading nonce and the tag
// under the application key, separated by frame kind.
func (p Protocol) tag(k Kind, frame []byte) []byte {
	body := frame[domain.NonceSize : len(frame)-domain.MacSize]
	data := concat([]byte{byte(k)}, body)
	return p.Services.MAC.Compute(p.ApplicationKey, frame[:domain.NonceSize], data)[:domain.MacSize]
}

func (p Protocol) xor(key, iv, buf []byte) error {
	block, err := p.Services.Cipher.NewBlock(key)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	cipher.NewCTR(block, iv).XORKeyStream(buf, buf)
	return nil
}

func (p Protocol) padded(natural int) int {
	if p.MinimumMessageSize > natural {
		return p.MinimumMessageSize
	}
	return natural
}

func (p Protocol) random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(p.Services.Random, b); err != nil {
		return nil, fmt.Errorf("handshake: random: %w", err)
	}
	return b, nil
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
