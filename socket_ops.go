package catnip

import (
	"errors"
	"time"

	"github.com/catnipstack/catnip/internal/arp"
	"github.com/catnipstack/catnip/internal/ioqueue"
	"github.com/catnipstack/catnip/internal/ipv4"
	"github.com/catnipstack/catnip/internal/tcp"
	"github.com/catnipstack/catnip/internal/udp"
)

// QueueDescriptor, QToken, and Completion re-export the ioqueue
// package's types so callers never need to import internal/ioqueue
// themselves (spec.md §4.8's public qd/qtoken/completion surface).
type QueueDescriptor = ioqueue.QueueDescriptor
type QToken = ioqueue.QToken
type Completion = ioqueue.Completion
type CompletionKind = ioqueue.CompletionKind

const (
	KindAccept  = ioqueue.KindAccept
	KindConnect = ioqueue.KindConnect
	KindPush    = ioqueue.KindPush
	KindPop     = ioqueue.KindPop
	KindClose   = ioqueue.KindClose
)

// SocketUDP creates a new unbound UDP queue descriptor.
func (l *LibOS) SocketUDP() QueueDescriptor { return l.queues.SocketUDP() }

// SocketTCP creates a new unbound TCP queue descriptor.
func (l *LibOS) SocketTCP() QueueDescriptor { return l.queues.SocketTCP() }

// Bind binds qd (a UDP queue descriptor) to localPort; 0 picks an
// ephemeral port.
func (l *LibOS) Bind(qd QueueDescriptor, localPort uint16) error {
	return mapErr("bind", l.queues.BindUDP(qd, localPort))
}

// Listen binds qd (a TCP queue descriptor) as a passive-open endpoint
// on localPort with the given accept backlog.
func (l *LibOS) Listen(qd QueueDescriptor, localPort uint16, backlog int) error {
	return mapErr("listen", l.queues.Listen(qd, localPort, backlog))
}

// Accept returns a qtoken that resolves once a connection lands on a
// listening qd.
func (l *LibOS) Accept(qd QueueDescriptor) (QToken, error) {
	tok, err := l.queues.Accept(qd)
	return tok, mapErr("accept", err)
}

// Connect starts an active TCP open from qd to remoteIP:remotePort,
// returning a qtoken that resolves once the handshake completes or
// fails.
func (l *LibOS) Connect(qd QueueDescriptor, remoteIP [4]byte, remotePort uint16) (QToken, error) {
	tok, err := l.queues.Connect(qd, remoteIP, remotePort)
	return tok, mapErr("connect", err)
}

// Push enqueues payload for transmission on a connected TCP flow or
// UDP socket. For a TCP flow the returned qtoken resolves once the
// bytes have entered the send buffer, not once they are acknowledged
// (spec.md §4.8's bound Open Question); for a UDP socket it resolves
// once the datagram's send task (ARP resolution, then transmit) ends.
func (l *LibOS) Push(qd QueueDescriptor, payload []byte) (QToken, error) {
	tok, err := l.queues.Push(qd, payload)
	return tok, mapErr("push", err)
}

// PushTo sends payload to dstIP:dstPort on an unconnected UDP qd.
func (l *LibOS) PushTo(qd QueueDescriptor, dstIP [4]byte, dstPort uint16, payload []byte) (QToken, error) {
	tok, err := l.queues.PushTo(qd, dstIP, dstPort, payload)
	return tok, mapErr("push_to", err)
}

// Pop returns a qtoken that resolves with the next inbound chunk on a
// TCP flow or UDP socket.
func (l *LibOS) Pop(qd QueueDescriptor) (QToken, error) {
	tok, err := l.queues.Pop(qd)
	return tok, mapErr("pop", err)
}

// CloseQueue starts an orderly close of qd: FIN for a TCP flow, or
// releasing the bound port for a UDP socket or TCP listener. Named
// distinctly from LibOS.Close, which tears down the whole instance.
func (l *LibOS) CloseQueue(qd QueueDescriptor) (QToken, error) {
	tok, err := l.queues.Close(qd)
	return tok, mapErr("close", err)
}

// GetSockName reports a UDP qd's bound local port.
func (l *LibOS) GetSockName(qd QueueDescriptor) (uint16, error) {
	port, err := l.queues.GetSockName(qd)
	return port, mapErr("getsockname", err)
}

// TryWait polls tok once without blocking.
func (l *LibOS) TryWait(tok QToken) (Completion, bool) {
	c, ready := l.queues.TryWait(tok)
	if ready {
		l.observeCompletion(c)
	}
	return withMappedCompletionErr(c), ready
}

// Wait blocks, driving the poll loop, until tok completes or timeout
// elapses (zero means no deadline).
func (l *LibOS) Wait(tok QToken, timeout time.Duration) (Completion, error) {
	c, err := l.queues.Wait(tok, timeout)
	if err != nil {
		return c, mapErr("wait", err)
	}
	l.observeCompletion(c)
	return withMappedCompletionErr(c), nil
}

// WaitAny blocks until the first of toks completes, returning its
// index and result; the rest remain pending for a later Wait/WaitAny.
func (l *LibOS) WaitAny(toks []QToken, timeout time.Duration) (int, Completion, error) {
	i, c, err := l.queues.WaitAny(toks, timeout)
	if err != nil {
		return i, c, mapErr("wait_any", err)
	}
	l.observeCompletion(c)
	return i, withMappedCompletionErr(c), nil
}

// Cancel marks tok cancelled: the task that issued it must observe
// this at its own next suspension point, per spec.md §4.8's
// cooperative cancellation (there is no preemption).
func (l *LibOS) Cancel(tok QToken) { l.queues.Cancel(tok) }

func kindName(k CompletionKind) string {
	switch k {
	case KindAccept:
		return "accept"
	case KindConnect:
		return "connect"
	case KindPush:
		return "push"
	case KindPop:
		return "pop"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

func (l *LibOS) observeCompletion(c Completion) {
	if l.metrics != nil {
		l.metrics.ObserveQtokenCompleted(kindName(c.Kind), c.Err == nil)
	}
}

// withMappedCompletionErr rewrites a Completion's internal sentinel
// error, if any, into the public *Error taxonomy. Pop's "peer closed,
// no more data" case gets CodeEof specifically rather than the general
// bad-state mapping, since internal/tcp reuses ErrClosed for both.
func withMappedCompletionErr(c Completion) Completion {
	if c.Err == nil {
		return c
	}
	op := kindName(c.Kind)
	if c.Kind == KindPop && errors.Is(c.Err, tcp.ErrClosed) {
		c.Err = NewError(op, CodeEof, "no more data, peer closed")
		return c
	}
	c.Err = mapErr(op, c.Err)
	return c
}

// mapErr translates an internal sentinel error into the public *Error
// taxonomy of spec.md §7. A nil err maps to nil.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ioqueue.ErrBadDescriptor):
		return WrapError(op, CodeBadArg, err)
	case errors.Is(err, ioqueue.ErrBadState):
		return WrapError(op, CodeBadState, err)
	case errors.Is(err, ioqueue.ErrTimeout):
		return WrapError(op, CodeTimeout, err)

	case errors.Is(err, udp.ErrAddressInUse), errors.Is(err, tcp.ErrAddressInUse):
		return WrapError(op, CodeInUse, err)
	case errors.Is(err, udp.ErrNoPortsAvailable), errors.Is(err, tcp.ErrBacklogFull):
		return WrapError(op, CodeOutOfRoom, err)

	case errors.Is(err, tcp.ErrConnectionRefused):
		return WrapError(op, CodeRefused, err)
	case errors.Is(err, tcp.ErrConnectionReset):
		return WrapError(op, CodeConnectionReset, err)
	case errors.Is(err, tcp.ErrTimeout):
		return WrapError(op, CodeTimeout, err)
	case errors.Is(err, tcp.ErrUnreachable),
		errors.Is(err, arp.ErrUnreachable),
		errors.Is(err, ipv4.ErrUnreachable),
		errors.Is(err, ipv4.ErrNoRoute):
		return WrapError(op, CodeUnreachable, err)
	case errors.Is(err, tcp.ErrBadState), errors.Is(err, tcp.ErrClosed):
		return WrapError(op, CodeBadState, err)

	default:
		return WrapError(op, CodeBadState, err)
	}
}
