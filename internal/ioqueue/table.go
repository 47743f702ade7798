// Package ioqueue implements the user-visible I/O-queue table of
// spec.md §4.8 (C9): small-integer queue descriptors bound to a
// transport endpoint (a UDP socket, a TCP listener, or a TCP flow),
// and the qtoken completion mechanism layered on top of them.
// Grounded on the teacher's generation-stamped `TagState` tracking in
// `internal/queue.Runner` (one entry per in-flight ublk tag), applied
// here to "one entry per bound socket/flow" instead.
package ioqueue

import (
	"errors"
	"time"

	"github.com/catnipstack/catnip/internal/runtime"
	"github.com/catnipstack/catnip/internal/tcp"
	"github.com/catnipstack/catnip/internal/udp"
)

// QueueDescriptor is the small integer ("qd") spec.md §4.8 hands back
// from socket, the handle every later operation addresses.
type QueueDescriptor uint32

// ErrBadDescriptor is returned when an operation names an unknown,
// already-closed, or wrong-kind queue descriptor.
var ErrBadDescriptor = errors.New("ioqueue: bad queue descriptor")

// ErrBadState is returned for an operation invalid for the queue's
// current binding (e.g. push on a listener, accept on a UDP socket).
var ErrBadState = errors.New("ioqueue: operation invalid for this queue")

type queueKind int

const (
	kindUDPUnbound queueKind = iota
	kindUDP
	kindTCPUnbound
	kindTCPListener
	kindTCPFlow
)

// queueEntry is one qd's binding: at most one of the transport handles
// is set, per kind.
type queueEntry struct {
	kind     queueKind
	udpSock  *udp.Socket
	tcpFlow  *tcp.Flow
	listener *tcp.Listener

	nextOp uint32
}

// Table is one LibOS instance's queue-descriptor arena, bridging the
// qtoken API onto the internal/udp and internal/tcp transport layers.
// The embedding facade (C10) owns the device and scheduler poll loop;
// Table only needs a way to advance one tick of it while Wait/WaitAny
// block on a completion, supplied via SetTick.
type Table struct {
	sched *runtime.Scheduler
	udp   *udp.Table
	tcp   *tcp.Arena
	tick  func()

	queues map[QueueDescriptor]*queueEntry
	nextQD QueueDescriptor

	pending map[QToken]*pending
}

// NewTable builds an empty queue-descriptor table over the given
// transport layers, sharing their scheduler.
func NewTable(sched *runtime.Scheduler, udpTable *udp.Table, tcpArena *tcp.Arena) *Table {
	return &Table{
		sched:   sched,
		udp:     udpTable,
		tcp:     tcpArena,
		queues:  make(map[QueueDescriptor]*queueEntry),
		pending: make(map[QToken]*pending),
	}
}

// SetTick installs the callback Wait/WaitAny invoke to advance one
// full poll-loop tick (device RX, timer service, RunReady) while
// blocking on a qtoken. Without one, Wait falls back to servicing only
// the scheduler, which is enough for tests that never touch a device.
func (t *Table) SetTick(tick func()) { t.tick = tick }

func (t *Table) step() {
	if t.tick != nil {
		t.tick()
		return
	}
	t.sched.ServiceTimers(time.Now())
	t.sched.RunReady()
}

func (t *Table) allocQD() QueueDescriptor {
	t.nextQD++
	return t.nextQD
}


// SocketUDP creates a new unbound UDP queue descriptor (spec.md §4.8's
// synchronous socket op).
func (t *Table) SocketUDP() QueueDescriptor {
	qd := t.allocQD()
	t.queues[qd] = &queueEntry{kind: kindUDPUnbound}
	return qd
}

// SocketTCP creates a new unbound TCP queue descriptor.
func (t *Table) SocketTCP() QueueDescriptor {
	qd := t.allocQD()
	t.queues[qd] = &queueEntry{kind: kindTCPUnbound}
	return qd
}

// BindUDP binds qd to localPort (0 picks an ephemeral port).
func (t *Table) BindUDP(qd QueueDescriptor, localPort uint16) error {
	e, ok := t.queues[qd]
	if !ok || e.kind != kindUDPUnbound {
		return ErrBadDescriptor
	}
	sock, err := t.udp.Bind(localPort)
	if err != nil {
		return err
	}
	e.kind = kindUDP
	e.udpSock = sock
	return nil
}

// Listen binds qd as a TCP passive-open endpoint on localPort with the
// given accept backlog (spec.md §4.8's synchronous listen op).
func (t *Table) Listen(qd QueueDescriptor, localPort uint16, backlog int) error {
	e, ok := t.queues[qd]
	if !ok || e.kind != kindTCPUnbound {
		return ErrBadDescriptor
	}
	l, err := t.tcp.Listen(localPort, backlog)
	if err != nil {
		return err
	}
	e.kind = kindTCPListener
	e.listener = l
	return nil
}

// registerFlow wraps an already-open tcp.Flow (from Connect or Accept)
// in a fresh queue descriptor.
func (t *Table) registerFlow(f *tcp.Flow) QueueDescriptor {
	qd := t.allocQD()
	t.queues[qd] = &queueEntry{kind: kindTCPFlow, tcpFlow: f}
	return qd
}

// GetSockName reports a UDP qd's bound local port, the one synchronous
// getsockname case this table can answer without threading a new
// accessor through internal/tcp's Flow/Listener (neither currently
// exposes its bound port; callers track what they passed to
// Listen/Connect instead).
func (t *Table) GetSockName(qd QueueDescriptor) (uint16, error) {
	e, ok := t.queues[qd]
	if !ok || e.kind != kindUDP {
		return 0, ErrBadState
	}
	return e.udpSock.LocalPort(), nil
}
