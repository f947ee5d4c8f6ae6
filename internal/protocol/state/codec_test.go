package state_test

import (
	"bytes"
	"errors"
	"testing"

	"microratchet/internal/crypto"
	"microratchet/internal/domain"
	"microratchet/internal/protocol/ratchet"
	"microratchet/internal/protocol/state"
)

var (
	digest  = crypto.SHA256{}
	factory = crypto.X25519Factory{}
)

func genKey(t *testing.T) domain.KeyAgreement {
	t.Helper()
	k, err := factory.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return k
}

// clientState returns an established-looking client state with the two
// bootstrap steps and extra further ratchet steps.
func clientState(t *testing.T, extra int) *state.State {
	t.Helper()
	steps, err := ratchet.InitializeClient(digest,
		bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32), bytes.Repeat([]byte{3}, 32),
		genKey(t), genKey(t), genKey(t).PublicKey(), genKey(t).PublicKey())
	if err != nil {
		t.Fatalf("InitializeClient: %v", err)
	}
	s := state.New(true, ratchet.DefaultDepth)
	s.Chain.Append(steps...)
	for i := 0; i < extra; i++ {
		next, err := ratchet.Ratchet(digest, s.Chain.Newest(), genKey(t).PublicKey(), genKey(t))
		if err != nil {
			t.Fatalf("Ratchet: %v", err)
		}
		s.Chain.Append(next)
	}
	return s
}

func store(t *testing.T, s *state.State) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := state.Store(&buf, s, ratchet.DefaultDepth); err != nil {
		t.Fatalf("Store: %v", err)
	}
	return buf.Bytes()
}

func load(t *testing.T, raw []byte) *state.State {
	t.Helper()
	s, err := state.Load(bytes.NewReader(raw), factory, ratchet.DefaultDepth)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func assertIdempotent(t *testing.T, s *state.State) []byte {
	t.Helper()
	raw := store(t, s)
	again := store(t, load(t, raw))
	if !bytes.Equal(raw, again) {
		t.Fatalf("re-serialized state differs:\n%x\n%x", raw, again)
	}
	return raw
}

const (
	fullSize     = 6*32 + 2*(4+32)
	sendRecvSize = 2 * (32 + 4 + 32)
	oneSideSize  = 32 + 4 + 32
)

func TestStore_Terminators(t *testing.T) {
	raw := assertIdempotent(t, state.New(false, ratchet.DefaultDepth))
	if !bytes.Equal(raw, []byte{0, 0, 0}) {
		t.Fatalf("empty server state = %x", raw)
	}
}

func TestStore_FullAndSendOnlyRecords(t *testing.T) {
	raw := assertIdempotent(t, clientState(t, 0))
	wantLen := 1 + (1 + fullSize) + (1 + oneSideSize) + 1 + 1
	if len(raw) != wantLen {
		t.Fatalf("len = %d, want %d", len(raw), wantLen)
	}
	if raw[0] != 0x01 || raw[1] != 1 || raw[2+fullSize] != 3 {
		t.Fatalf("flags/tags = %x %x %x", raw[0], raw[1], raw[2+fullSize])
	}
}

func TestStore_SendRecvAndRecvOnlyRecords(t *testing.T) {
	s := clientState(t, 3)
	if s.Chain.Len() != 4 {
		t.Fatalf("chain len = %d", s.Chain.Len())
	}
	raw := assertIdempotent(t, s)
	off := 1
	for i, want := range []byte{1, 2, 4, 4} {
		if raw[off] != want {
			t.Fatalf("record %d tag = %d, want %d", i, raw[off], want)
		}
		switch want {
		case 1:
			off += 1 + fullSize
		case 2:
			off += 1 + sendRecvSize
		default:
			off += 1 + oneSideSize
		}
	}
	if raw[off] != 0 || raw[off+1] != 0 || len(raw) != off+2 {
		t.Fatal("missing terminators")
	}
}

func TestStore_ClientPending(t *testing.T) {
	s := state.New(true, ratchet.DefaultDepth)
	s.Ephemeral = genKey(t)
	s.Nonce = bytes.Repeat([]byte{0xcc}, 16)
	raw := assertIdempotent(t, s)
	if raw[0] != 0x01|0x04|0x08 || len(raw) != 1+32+16+2 {
		t.Fatalf("pending client = %x", raw)
	}
	back := load(t, raw)
	if !bytes.Equal(back.Ephemeral.PublicKey(), s.Ephemeral.PublicKey()) {
		t.Fatal("ephemeral key changed")
	}
}

func TestStore_LostKeysRoundTrip(t *testing.T) {
	s := clientState(t, 1)
	recv := s.Chain.Newest().Receiving
	if _, err := recv.RatchetForReceiving(digest, 10); err != nil {
		t.Fatal(err)
	}
	raw := assertIdempotent(t, s)
	back := load(t, raw)
	lost := back.Chain.Newest().Receiving.LostKeys()
	if len(lost) != 9 {
		t.Fatalf("lost keys = %d, want 9", len(lost))
	}
	want, _ := recv.RatchetForReceiving(digest, 4)
	got, err := back.Chain.Newest().Receiving.RatchetForReceiving(digest, 4)
	if err != nil || !bytes.Equal(want, got) {
		t.Fatalf("restored lost key differs: %v", err)
	}
}

func TestStore_LostKeysBounded(t *testing.T) {
	s := clientState(t, 2)
	for age := 0; age < 3; age++ {
		if _, err := s.Chain.At(age).Receiving.RatchetForReceiving(digest, 65); err != nil {
			t.Fatal(err)
		}
	}
	back := load(t, assertIdempotent(t, s))
	var total int
	for _, st := range back.Chain.Steps() {
		total += len(st.Receiving.LostKeys())
	}
	if total != state.MaxLostKeys {
		t.Fatalf("stored lost keys = %d, want %d", total, state.MaxLostKeys)
	}
	if n := len(back.Chain.At(2).Receiving.LostKeys()); n != 0 {
		t.Fatalf("oldest step kept %d lost keys", n)
	}
}

func TestSnapshot_KeepsEveryLostKey(t *testing.T) {
	s := clientState(t, 2)
	for age := 0; age < 3; age++ {
		if _, err := s.Chain.At(age).Receiving.RatchetForReceiving(digest, 65); err != nil {
			t.Fatal(err)
		}
	}
	want := s.Chain.LostKeys()
	if want <= state.MaxLostKeys {
		t.Fatalf("setup cached only %d lost keys", want)
	}
	var buf bytes.Buffer
	if err := state.Snapshot(&buf, s); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	back := load(t, buf.Bytes())
	if got := back.Chain.LostKeys(); got != want {
		t.Fatalf("restored lost keys = %d, want %d", got, want)
	}
	if _, err := back.Chain.At(2).Receiving.RatchetForReceiving(digest, 1); err != nil {
		t.Fatalf("oldest lost key: %v", err)
	}
}

func TestStore_RatchetsToKeep(t *testing.T) {
	s := clientState(t, 4)
	var buf bytes.Buffer
	if err := state.Store(&buf, s, 2); err != nil {
		t.Fatal(err)
	}
	back := load(t, buf.Bytes())
	if back.Chain.Len() != 2 {
		t.Fatalf("len = %d, want 2", back.Chain.Len())
	}
}

func TestStore_RejectsInvalidShape(t *testing.T) {
	s := clientState(t, 0)
	s.Chain.Newest().NextRootKey = nil
	var buf bytes.Buffer
	if err := state.Store(&buf, s, ratchet.DefaultDepth); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("got %v, want ErrCorruptState", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	good := store(t, clientState(t, 2))
	body := good[:len(good)-1]
	outOfRange := append(append([]byte(nil), body...), 1, 9, 0, 0, 0, 1)
	outOfRange = append(outOfRange, make([]byte, 17)...)
	cases := map[string][]byte{
		"unknown flags":  append([]byte{0x80}, good[1:]...),
		"truncated":      good[:len(good)-3],
		"bad first tag":  append([]byte{0x01, 4}, good[2:]...),
		"unknown lost":   append(append([]byte(nil), body...), 9),
		"empty":          nil,
		"lost key range": outOfRange,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := state.Load(bytes.NewReader(raw), factory, ratchet.DefaultDepth)
			if !errors.Is(err, domain.ErrCorruptState) {
				t.Fatalf("got %v, want ErrCorruptState", err)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	raw := store(t, clientState(t, 1))
	sum, err := state.Summarize(raw, factory)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.IsClient || sum.Established || sum.Steps != 2 || sum.Bytes != len(raw) {
		t.Fatalf("summary = %+v", sum)
	}
}
