package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catnipstack/catnip/internal/buf"
)

func TestLoopbackPairDeliversFrame(t *testing.T) {
	a, b := NewLoopbackPair([6]byte{1}, [6]byte{2})

	frame := a.Pool().Alloc(64)
	require.NoError(t, frame.GrowTail(64))
	copy(frame.Bytes(), []byte("hello frame"))

	ok, err := a.Transmit(frame)
	require.NoError(t, err)
	require.True(t, ok)

	burst := make([]*buf.Buffer, 4)
	n, err := b.Receive(burst)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []byte("hello frame"), burst[0].Bytes()[:11])
	burst[0].Drop()
}

func TestLoopbackReceiveEmptyWhenNothingPending(t *testing.T) {
	_, b := NewLoopbackPair([6]byte{0xaa}, [6]byte{0xbb})
	burst := make([]*buf.Buffer, 4)
	n, err := b.Receive(burst)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestLoopbackLossRateDropsFrames(t *testing.T) {
	a, b := NewLoopbackPair([6]byte{1}, [6]byte{2})
	a.SetLossRate(1.0) // drop everything

	frame := a.Pool().Alloc(16)
	require.NoError(t, frame.GrowTail(16))
	ok, err := a.Transmit(frame)
	require.NoError(t, err)
	require.False(t, ok)

	burst := make([]*buf.Buffer, 1)
	n, err := b.Receive(burst)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
