package tcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catnipstack/catnip/internal/device"
	"github.com/catnipstack/catnip/internal/headers"
)

func TestListenDuplicatePortFails(t *testing.T) {
	dev, _ := device.NewLoopbackPair(macA, macB)
	n := newNode(t, dev, macA, ipA)

	_, err := n.arena.Listen(8080, 4)
	require.NoError(t, err)

	_, err = n.arena.Listen(8080, 4)
	require.ErrorIs(t, err, ErrAddressInUse)
}

func TestBacklogFullDropsNewSYN(t *testing.T) {
	dev, _ := device.NewLoopbackPair(macA, macB)
	n := newNode(t, dev, macA, ipA)

	l, err := n.arena.Listen(8081, 1) // backlog of exactly one
	require.NoError(t, err)

	first := FourTuple{LocalIP: ipA, LocalPort: 8081, RemoteIP: ipB, RemotePort: 1111}
	l.handleSYN(first, headers.TCP{SrcPort: 1111, DstPort: 8081, SeqNum: 100, Flags: headers.FlagSYN})
	require.Equal(t, 1, len(l.pending))

	second := FourTuple{LocalIP: ipA, LocalPort: 8081, RemoteIP: ipB, RemotePort: 2222}
	l.handleSYN(second, headers.TCP{SrcPort: 2222, DstPort: 8081, SeqNum: 200, Flags: headers.FlagSYN})

	require.Equal(t, 1, len(l.pending), "a SYN past the backlog cap must be dropped, not admitted")
	require.Equal(t, 1, len(n.arena.flows), "the dropped SYN must not register a flow in the arena")
}

func TestAbandonRemovesHalfOpenEntry(t *testing.T) {
	dev, _ := device.NewLoopbackPair(macA, macB)
	n := newNode(t, dev, macA, ipA)

	l, err := n.arena.Listen(8082, 4)
	require.NoError(t, err)

	tuple := FourTuple{LocalIP: ipA, LocalPort: 8082, RemoteIP: ipB, RemotePort: 1234}
	l.handleSYN(tuple, headers.TCP{SrcPort: 1234, DstPort: 8082, SeqNum: 100, Flags: headers.FlagSYN})
	require.Equal(t, 1, len(l.pending))

	l.abandon(tuple)
	require.Equal(t, 0, len(l.pending))
}

func TestTryAcceptReturnsOldestReadyFlow(t *testing.T) {
	dev, _ := device.NewLoopbackPair(macA, macB)
	n := newNode(t, dev, macA, ipA)
	l, err := n.arena.Listen(8083, 4)
	require.NoError(t, err)

	_, ok := l.TryAccept()
	require.False(t, ok)

	tuple := FourTuple{LocalIP: ipA, LocalPort: 8083, RemoteIP: ipB, RemotePort: 1234}
	f := newFlow(n.arena, tuple)
	f.listener = l
	l.admit(f)

	got, ok := l.TryAccept()
	require.True(t, ok)
	require.Same(t, f, got)

	_, ok = l.TryAccept()
	require.False(t, ok)
}
