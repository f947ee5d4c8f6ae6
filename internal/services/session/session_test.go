package session_test

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"microratchet/internal/crypto"
	"microratchet/internal/domain"
	"microratchet/internal/protocol/state"
	"microratchet/internal/services/session"
	"microratchet/internal/store"
)

var appKey = bytes.Repeat([]byte{0x5c}, 32)

// endpoint reopens its session from storage before every operation when
// reload is set.
type endpoint struct {
	t       *testing.T
	cfg     session.Config
	svc     domain.Services
	storage *store.Memory
	reload  bool
	s       *session.Session
}

func newEndpoint(t *testing.T, isClient, reload bool) *endpoint {
	t.Helper()
	signer, _, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	e := &endpoint{
		t:       t,
		cfg:     session.Config{ApplicationKey: appKey, IsClient: isClient},
		svc:     crypto.NewServices(signer),
		storage: store.NewMemory(),
		reload:  reload,
	}
	e.open()
	return e
}

func (e *endpoint) open() {
	e.t.Helper()
	s, err := session.New(e.cfg, e.svc, e.storage, nil)
	require.NoError(e.t, err)
	e.s = s
}

func (e *endpoint) session() *session.Session {
	if e.reload {
		e.open()
	}
	return e.s
}

func (e *endpoint) save() {
	e.t.Helper()
	require.NoError(e.t, e.s.SaveState())
	if e.reload {
		assertIdempotentState(e.t, e)
	}
}

func assertIdempotentState(t *testing.T, e *endpoint) {
	t.Helper()
	raw, err := e.storage.Load()
	require.NoError(t, err)
	s, err := session.New(e.cfg, e.svc, e.storage, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveState())
	again, err := e.storage.Load()
	require.NoError(t, err)
	require.Equal(t, raw, again, "re-serialized state differs")
}

func (e *endpoint) receive(frame []byte) *session.ReceiveResult {
	e.t.Helper()
	res, err := e.session().Receive(frame)
	require.NoError(e.t, err)
	e.save()
	return res
}

func (e *endpoint) send(payload []byte) []byte {
	e.t.Helper()
	frame, err := e.session().Send(payload)
	require.NoError(e.t, err)
	e.save()
	return frame
}

func handshake(t *testing.T, client, server *endpoint) {
	t.Helper()
	hello, err := client.session().InitiateInitialization()
	require.NoError(t, err)
	client.save()

	res := server.receive(hello)
	require.NotNil(t, res.ToSend)
	require.False(t, server.session().IsInitialized())

	res = client.receive(res.ToSend)
	require.NotNil(t, res.ToSend, "client ack")
	require.False(t, client.session().IsInitialized())

	res = server.receive(res.ToSend)
	require.NotNil(t, res.ToSend, "server ack")
	require.True(t, server.session().IsInitialized())

	res = client.receive(res.ToSend)
	require.Nil(t, res.ToSend)
	require.Nil(t, res.Payload)
	require.True(t, client.session().IsInitialized())
}

func pair(t *testing.T, reload bool) (*endpoint, *endpoint) {
	client, server := newEndpoint(t, true, reload), newEndpoint(t, false, reload)
	handshake(t, client, server)
	return client, server
}

func plain(res *session.ReceiveResult, n int) []byte {
	return res.Payload[:n]
}

func TestHandshake_Completes(t *testing.T) {
	for _, reload := range []bool{false, true} {
		t.Run(fmt.Sprintf("reload=%v", reload), func(t *testing.T) {
			client, server := pair(t, reload)
			require.Equal(t, client.s.PublicKey(), server.session().RemotePublicKey())
		})
	}
}

func TestHandshake_CrossPartyHeaderKeys(t *testing.T) {
	client, server := pair(t, false)
	c1 := client.s.Chain().Newest()
	s0 := server.s.Chain().Newest()
	require.Equal(t, c1.ReceiveHeaderKey, s0.SendHeaderKey)
	require.Equal(t, c1.SendHeaderKey, s0.NextReceiveHeaderKey)
	require.Equal(t, c1.NextReceiveHeaderKey, s0.NextSendHeaderKey)
}

func TestSend_BeforeInitialization(t *testing.T) {
	client := newEndpoint(t, true, false)
	_, err := client.s.Send([]byte("early"))
	require.ErrorIs(t, err, domain.ErrProtocolViolation)

	server := newEndpoint(t, false, false)
	_, err = server.s.InitiateInitialization()
	require.ErrorIs(t, err, domain.ErrProtocolViolation)
}

func TestExchange_BothDirections(t *testing.T) {
	for _, reload := range []bool{false, true} {
		t.Run(fmt.Sprintf("reload=%v", reload), func(t *testing.T) {
			client, server := pair(t, reload)
			for i := 0; i < 5; i++ {
				msg := []byte(fmt.Sprintf("client %d", i))
				require.Equal(t, msg, plain(server.receive(client.send(msg)), len(msg)))

				msg = []byte(fmt.Sprintf("server %d", i))
				require.Equal(t, msg, plain(client.receive(server.send(msg)), len(msg)))
			}
			require.LessOrEqual(t, client.session().Steps(), session.DefaultRatchetsToKeep)
			require.LessOrEqual(t, server.session().Steps(), session.DefaultRatchetsToKeep)
		})
	}
}

func TestOutOfOrder_312(t *testing.T) {
	client, server := pair(t, true)
	before := server.session().Steps()

	msgs := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	frames := make([][]byte, len(msgs))
	for i, m := range msgs {
		frames[i] = client.send(m)
	}

	for _, i := range []int{2, 0, 1} {
		require.Equal(t, msgs[i], plain(server.receive(frames[i]), len(msgs[i])))
	}
	require.Equal(t, before+1, server.session().Steps(), "one new step per new DH key")
}

func TestLossyReordered(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, drop := range []float64{0, 0.2, 0.5} {
		t.Run(fmt.Sprintf("drop=%.1f", drop), func(t *testing.T) {
			client, server := pair(t, false)
			for round := 0; round < 20; round++ {
				from, to := client, server
				if round%2 == 1 {
					from, to = server, client
				}
				var batch [][]byte
				var sent []string
				n := 1 + rng.Intn(4)
				for i := 0; i < n; i++ {
					m := fmt.Sprintf("r%d-m%d", round, i)
					sent = append(sent, m)
					batch = append(batch, from.send([]byte(m)))
				}
				for _, i := range rng.Perm(len(batch)) {
					if rng.Float64() < drop {
						continue
					}
					res := to.receive(batch[i])
					require.Equal(t, sent[i], string(plain(res, len(sent[i]))))
				}
			}
		})
	}
}

func TestReceive_RejectsTampering(t *testing.T) {
	client, server := pair(t, false)
	frame := client.send([]byte("tamper"))
	for _, i := range []int{0, 2, 10, len(frame) - 20, len(frame) - 1} {
		bad := append([]byte(nil), frame...)
		bad[i] ^= 0x04
		_, err := server.s.Receive(bad)
		require.ErrorIs(t, err, domain.ErrAuthentication, "byte %d", i)
	}
	require.Equal(t, []byte("tamper"), plain(server.receive(frame), 6))
}

func TestReceive_DuplicateFrameExhausted(t *testing.T) {
	client, server := pair(t, false)
	frame := client.send([]byte("once"))
	server.receive(frame)
	steps := server.s.Steps()

	_, err := server.s.Receive(frame)
	require.ErrorIs(t, err, domain.ErrKeyExhausted)
	require.Equal(t, steps, server.s.Steps())

	// The failed call left the state usable.
	require.Equal(t, []byte("twice"), plain(server.receive(client.send([]byte("twice"))), 5))
}

func TestReceive_RejectionKeepsLostKeysAcrossSteps(t *testing.T) {
	client, server := pair(t, false)
	const skip = 60
	var held, want [][]byte
	for round := 0; round < 3; round++ {
		frames := make([][]byte, 0, skip+1)
		for i := 0; i <= skip; i++ {
			m := []byte{byte(round), byte(i)}
			frames = append(frames, client.send(m))
			if i < skip {
				want = append(want, m)
			}
		}
		server.receive(frames[skip])
		held = append(held, frames[:skip]...)
		// The reply moves the client to a new step for the next round.
		client.receive(server.send([]byte("ack")))
	}
	require.Equal(t, state.MaxLostKeys, server.s.Chain().LostKeys(), "cache held at the stored bound")

	_, err := server.s.Receive(make([]byte, 80))
	require.ErrorIs(t, err, domain.ErrAuthentication)
	require.Equal(t, state.MaxLostKeys, server.s.Chain().LostKeys(), "rejected frame changed the cache")

	// The oldest keys of the first round went to the bound; the rest decrypt.
	evicted := len(held) - state.MaxLostKeys
	for _, f := range held[:evicted] {
		_, err := server.s.Receive(f)
		require.ErrorIs(t, err, domain.ErrKeyExhausted)
	}
	for i, f := range held[evicted:] {
		m := want[evicted+i]
		require.Equal(t, m, plain(server.receive(f), len(m)))
	}
	require.Zero(t, server.s.Chain().LostKeys())
}

func TestSend_RejectionKeepsLostKeys(t *testing.T) {
	client, server := pair(t, false)
	var held [][]byte
	for i := 0; i < 3; i++ {
		for j := 0; j < 50; j++ {
			held = append(held, server.send([]byte{byte(i), byte(j)}))
		}
		client.receive(server.send([]byte("last")))
		server.receive(client.send([]byte("next")))
	}
	before := client.s.Chain().LostKeys()
	require.Greater(t, before, 100)

	_, err := client.s.Send(make([]byte, session.DefaultMaximumMessageSize))
	require.ErrorIs(t, err, domain.ErrSizeViolation)
	require.Equal(t, before, client.s.Chain().LostKeys())
	res := client.receive(held[len(held)-1])
	require.Equal(t, []byte{2, 49}, plain(res, 2))
}

func TestHandshake_ReplayAndReinit(t *testing.T) {
	client := newEndpoint(t, true, false)
	server := newEndpoint(t, false, false)

	hello, err := client.s.InitiateInitialization()
	require.NoError(t, err)
	server.receive(hello)

	_, err = server.s.Receive(hello)
	require.ErrorIs(t, err, domain.ErrReplay)

	// A fresh hello from the same client restarts the handshake.
	handshake(t, client, server)
	msg := []byte("after reinit")
	require.Equal(t, msg, plain(server.receive(client.send(msg)), len(msg)))

	// The client loses its state and starts over against an established server.
	client.storage = store.NewMemory()
	client.open()
	handshake(t, client, server)
	require.Equal(t, msg, plain(server.receive(client.send(msg)), len(msg)))
}

func TestHandshake_WrongRole(t *testing.T) {
	client := newEndpoint(t, true, false)
	other := newEndpoint(t, true, false)
	hello, err := other.s.InitiateInitialization()
	require.NoError(t, err)
	_, err = client.s.Receive(hello)
	require.ErrorIs(t, err, domain.ErrProtocolViolation)
}

func TestHandshake_PinnedServerKey(t *testing.T) {
	client := newEndpoint(t, true, false)
	server := newEndpoint(t, false, false)
	client.cfg.RemotePublicKey = bytes.Repeat([]byte{1}, 32)
	client.open()

	hello, err := client.s.InitiateInitialization()
	require.NoError(t, err)
	res := server.receive(hello)
	_, err = client.s.Receive(res.ToSend)
	require.ErrorIs(t, err, domain.ErrAuthentication)
	require.False(t, client.s.IsInitialized())

	client.cfg.RemotePublicKey = server.s.PublicKey()
	client.open()
	handshake(t, client, server)
}

func TestSend_SizePolicy(t *testing.T) {
	client, server := pair(t, false)
	// Too large for a DH header, goes on the second-newest step.
	big := bytes.Repeat([]byte{7}, session.DefaultMaximumMessageSize-20)
	frame := client.send(big)
	require.Len(t, frame, session.DefaultMaximumMessageSize-4)
	require.Equal(t, big, plain(server.receive(frame), len(big)))

	_, err := client.s.Send(make([]byte, session.DefaultMaximumMessageSize))
	require.ErrorIs(t, err, domain.ErrSizeViolation)
}

func TestNew_ValidatesConfig(t *testing.T) {
	svc := crypto.NewServices(nil)
	cases := []session.Config{
		{ApplicationKey: []byte("short")},
		{ApplicationKey: appKey, MinimumMessageSize: 32},
		{ApplicationKey: appKey, MaximumMessageSize: 200},
		{ApplicationKey: appKey, MinimumMessageSize: 600, MaximumMessageSize: 500},
		{ApplicationKey: appKey, NumberOfRatchetsToKeep: 1},
	}
	for i, cfg := range cases {
		_, err := session.New(cfg, svc, store.NewMemory(), nil)
		require.Error(t, err, "case %d", i)
	}
}

func TestNew_RoleMismatch(t *testing.T) {
	client := newEndpoint(t, true, false)
	_, err := client.s.InitiateInitialization()
	require.NoError(t, err)
	require.NoError(t, client.s.SaveState())

	cfg := client.cfg
	cfg.IsClient = false
	_, err = session.New(cfg, client.svc, client.storage, nil)
	require.ErrorIs(t, err, domain.ErrCorruptState)
}
