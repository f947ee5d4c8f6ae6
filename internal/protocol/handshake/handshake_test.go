package handshake_test

import (
	"bytes"
	"errors"
	"testing"

	"microratchet/internal/crypto"
	"microratchet/internal/domain"
	"microratchet/internal/protocol/handshake"
)

var appKey = bytes.Repeat([]byte{0x42}, 32)

func newProtocol(t *testing.T, minSize int) handshake.Protocol {
	t.Helper()
	signer, _, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	return handshake.Protocol{
		Services:           crypto.NewServices(signer),
		ApplicationKey:     appKey,
		MinimumMessageSize: minSize,
	}
}

func TestHandshake_KeysAgree(t *testing.T) {
	client, server := newProtocol(t, 64), newProtocol(t, 64)

	hello, eph, nonce, err := client.NewClientHello()
	if err != nil {
		t.Fatalf("NewClientHello: %v", err)
	}
	if len(hello) != handshake.ClientHelloSize {
		t.Fatalf("client hello = %d bytes, want %d", len(hello), handshake.ClientHelloSize)
	}
	kind, ok := server.Recognize(hello)
	if !ok || kind != handshake.KindClientHello {
		t.Fatalf("Recognize = %v, %v", kind, ok)
	}
	ch, err := server.ParseClientHello(hello)
	if err != nil {
		t.Fatalf("ParseClientHello: %v", err)
	}
	if !bytes.Equal(ch.ClientPublicKey, client.Services.Signer.PublicKey()) || !bytes.Equal(ch.Nonce, nonce) {
		t.Fatal("client hello fields differ")
	}

	resp, secrets, err := server.NewServerHello(ch)
	if err != nil {
		t.Fatalf("NewServerHello: %v", err)
	}
	if len(resp) != handshake.ServerHelloSize {
		t.Fatalf("server hello = %d bytes, want %d", len(resp), handshake.ServerHelloSize)
	}
	if kind, ok := client.Recognize(resp); !ok || kind != handshake.KindServerHello {
		t.Fatalf("Recognize = %v, %v", kind, ok)
	}
	sh, err := client.ParseServerHello(resp, eph, nonce, server.Services.Signer.PublicKey())
	if err != nil {
		t.Fatalf("ParseServerHello: %v", err)
	}

	if !bytes.Equal(sh.RootKey, secrets.RootKey) {
		t.Fatal("root keys differ")
	}
	if !bytes.Equal(sh.FirstSendHeaderKey, secrets.FirstReceiveHeaderKey) {
		t.Fatal("client->server header keys differ")
	}
	if !bytes.Equal(sh.FirstReceiveHeaderKey, secrets.FirstSendHeaderKey) {
		t.Fatal("server->client header keys differ")
	}
	if !bytes.Equal(sh.R0, secrets.R0.PublicKey()) || !bytes.Equal(sh.R1, secrets.R1.PublicKey()) {
		t.Fatal("ratchet public keys differ")
	}
}

func TestHandshake_PadsToMinimum(t *testing.T) {
	client, server := newProtocol(t, 300), newProtocol(t, 300)
	hello, eph, nonce, err := client.NewClientHello()
	if err != nil {
		t.Fatal(err)
	}
	if len(hello) != 300 {
		t.Fatalf("client hello = %d bytes", len(hello))
	}
	ch, err := server.ParseClientHello(hello)
	if err != nil {
		t.Fatal(err)
	}
	resp, _, err := server.NewServerHello(ch)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 300 {
		t.Fatalf("server hello = %d bytes", len(resp))
	}
	if _, err := client.ParseServerHello(resp, eph, nonce, nil); err != nil {
		t.Fatalf("ParseServerHello: %v", err)
	}
}

func TestRecognize_RejectsTamperingAndWrongKey(t *testing.T) {
	client, server := newProtocol(t, 64), newProtocol(t, 64)
	hello, _, _, err := client.NewClientHello()
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 15, 16, 100, len(hello) - 1} {
		bad := append([]byte(nil), hello...)
		bad[i] ^= 0x80
		if _, ok := server.Recognize(bad); ok {
			t.Fatalf("flipped byte %d still recognized", i)
		}
	}
	other := server
	other.ApplicationKey = bytes.Repeat([]byte{0x01}, 32)
	if _, ok := other.Recognize(hello); ok {
		t.Fatal("frame recognized under another application key")
	}
}

func TestParseClientHello_BadSignature(t *testing.T) {
	client, server := newProtocol(t, 64), newProtocol(t, 64)
	forger := client
	forged, err := crypto.NewEd25519Signer(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatal(err)
	}
	// Claims client's public key but signs with another key.
	forger.Services.Signer = impostor{pub: client.Services.Signer.PublicKey(), signer: forged}

	hello, _, _, err := forger.NewClientHello()
	if err != nil {
		t.Fatal(err)
	}
	_, err = server.ParseClientHello(hello)
	if !errors.Is(err, domain.ErrAuthentication) || !errors.Is(err, handshake.ErrBadSignature) {
		t.Fatalf("got %v, want bad signature", err)
	}
}

func TestParseServerHello_Failures(t *testing.T) {
	client, server := newProtocol(t, 64), newProtocol(t, 64)
	hello, eph, nonce, err := client.NewClientHello()
	if err != nil {
		t.Fatal(err)
	}
	ch, err := server.ParseClientHello(hello)
	if err != nil {
		t.Fatal(err)
	}
	resp, _, err := server.NewServerHello(ch)
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.ParseServerHello(resp, eph, nonce, bytes.Repeat([]byte{9}, 32))
	if !errors.Is(err, handshake.ErrUnexpectedKey) {
		t.Fatalf("pinned key: got %v", err)
	}
	_, err = client.ParseServerHello(resp, eph, bytes.Repeat([]byte{0}, 16), nil)
	if !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("wrong nonce: got %v", err)
	}
	_, err = client.ParseServerHello(resp[:100], eph, nonce, nil)
	if !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("short frame: got %v", err)
	}
}

type impostor struct {
	pub    []byte
	signer domain.Signer
}

func (i impostor) PublicKey() []byte { return i.pub }
func (i impostor) Sign(data []byte) ([]byte, error) { return i.signer.Sign(data) }
