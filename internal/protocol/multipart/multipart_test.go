package multipart_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"microratchet/internal/domain"
	"microratchet/internal/protocol/multipart"
)

func payload(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestSplit_FragmentCount(t *testing.T) {
	const capacity = 100
	data := payload(3*capacity+17, 1)
	frags, err := multipart.Split(data, capacity, 7)
	require.NoError(t, err)
	require.Len(t, frags, 4)
	require.Len(t, frags[3].Data, 17)
	for i, f := range frags {
		require.Equal(t, uint8(i), f.Index)
		require.Equal(t, uint8(4), f.Total)
		require.Equal(t, uint16(7), f.Sequence)
	}
}

func TestSplit_Errors(t *testing.T) {
	_, err := multipart.Split([]byte("x"), 0, 1)
	require.True(t, errors.Is(err, domain.ErrSizeViolation))
	_, err = multipart.Split(make([]byte, 256), 1, 1)
	require.True(t, errors.Is(err, domain.ErrSizeViolation))
}

func TestFragment_EncodeDecodeIgnoresPadding(t *testing.T) {
	f := multipart.Fragment{Sequence: 513, Index: 1, Total: 3, Data: []byte("chunk")}
	enc := append(f.Encode(), make([]byte, 20)...)
	got, err := multipart.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, f, got)

	_, err = multipart.Decode(enc[:4])
	require.True(t, errors.Is(err, domain.ErrProtocolViolation))
	bad := f.Encode()
	bad[2] = 3
	_, err = multipart.Decode(bad)
	require.True(t, errors.Is(err, domain.ErrProtocolViolation))
}

func TestAssembler_AnyOrder(t *testing.T) {
	const capacity = 64
	data := payload(5*capacity+9, 2)
	frags, err := multipart.Split(data, capacity, 1)
	require.NoError(t, err)

	a := multipart.New(multipart.WithFragmentCapacity(capacity))
	order := rand.New(rand.NewSource(3)).Perm(len(frags))
	var out []byte
	for i, idx := range order {
		out, err = a.IngestFragment(frags[idx])
		require.NoError(t, err)
		if i < len(order)-1 {
			require.Nil(t, out)
		}
	}
	require.Equal(t, data, out)
	require.Zero(t, a.Pending())
	require.Zero(t, a.Used())
}

func TestAssembler_Interleaved(t *testing.T) {
	const capacity = 32
	a := multipart.New(multipart.WithFragmentCapacity(capacity))
	x := payload(4*capacity, 4)
	y := payload(3*capacity+1, 5)
	fx, err := multipart.Split(x, capacity, 10)
	require.NoError(t, err)
	fy, err := multipart.Split(y, capacity, 11)
	require.NoError(t, err)

	var gotX, gotY []byte
	for i := 0; i < 4; i++ {
		if out, err := a.IngestFragment(fy[i]); err == nil && out != nil {
			gotY = out
		}
		if out, err := a.IngestFragment(fx[3-i]); err == nil && out != nil {
			gotX = out
		}
	}
	require.True(t, bytes.Equal(x, gotX))
	require.True(t, bytes.Equal(y, gotY))
}

func TestAssembler_BudgetEvictsOldest(t *testing.T) {
	a := multipart.New(multipart.WithFragmentCapacity(10), multipart.WithMaxBytes(50))

	out, err := a.Ingest([]byte("a"), 1, 0, 3)
	require.NoError(t, err)
	require.Nil(t, out)
	_, err = a.Ingest([]byte("b"), 2, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 50, a.Used())

	// Needs 20 bytes: sequence 1 (30 bytes) is the oldest and goes.
	_, err = a.Ingest([]byte("c"), 3, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 2, a.Pending())

	out, err = a.Ingest([]byte("b2"), 2, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("bb2"), out)

	_, err = a.Ingest([]byte("z"), 4, 0, 6)
	require.True(t, errors.Is(err, domain.ErrSizeViolation))
}

func TestAssembler_TickExpires(t *testing.T) {
	a := multipart.New(multipart.WithMaxAge(2))
	_, err := a.Ingest([]byte("old"), 1, 0, 2)
	require.NoError(t, err)
	require.Zero(t, a.Tick())
	_, err = a.Ingest([]byte("new"), 2, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 1, a.Tick())
	require.Equal(t, 1, a.Pending())

	out, err := a.Ingest([]byte("!"), 2, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("new!"), out)
}

func TestAssembler_RejectsInconsistentTotal(t *testing.T) {
	a := multipart.New()
	_, err := a.Ingest([]byte("a"), 1, 0, 2)
	require.NoError(t, err)
	_, err = a.Ingest([]byte("b"), 1, 1, 3)
	require.True(t, errors.Is(err, domain.ErrProtocolViolation))
	_, err = a.Ingest([]byte("b"), 1, 2, 2)
	require.True(t, errors.Is(err, domain.ErrProtocolViolation))
}
