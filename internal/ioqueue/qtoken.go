package ioqueue

import (
	"errors"
	"time"

	"github.com/catnipstack/catnip/internal/tcp"
)

// QToken is the opaque 64-bit completion handle spec.md §4.8 returns
// from every asynchronous operation: the owning queue descriptor in
// the high 32 bits and a per-queue operation sequence number in the
// low 32, the same tagged-handle shape the teacher uses for ublk tags
// scoped to a queue.
type QToken uint64

func makeToken(qd QueueDescriptor, op uint32) QToken {
	return QToken(uint64(qd)<<32 | uint64(op))
}

func (tok QToken) queue() QueueDescriptor { return QueueDescriptor(tok >> 32) }

// ErrTimeout is returned by Wait/WaitAny when the deadline elapses
// before the named qtoken(s) complete.
var ErrTimeout = errors.New("ioqueue: wait timed out")

// CompletionKind distinguishes what a completed qtoken carries, so a
// caller driving wait_any over a mixed batch of operations can
// type-switch on the result without guessing from the qtoken alone.
type CompletionKind int

const (
	KindAccept CompletionKind = iota
	KindConnect
	KindPush
	KindPop
	KindClose
)

// Completion is the value a qtoken resolves to.
type Completion struct {
	Kind CompletionKind
	QD   QueueDescriptor // populated for KindAccept: the new flow's qd
	Data []byte          // populated for KindPop
	Err  error
}

// pending is one in-flight qtoken: a closure re-checked once per tick
// until it reports ready, plus an optional cancellation hook.
type pending struct {
	poll   func() (Completion, bool)
	cancel func()
	done   bool
	result Completion
}

func (p *pending) tryAdvance() bool {
	if p.done {
		return true
	}
	if c, ready := p.poll(); ready {
		p.result = c
		p.done = true
	}
	return p.done
}

// newPending mints a fresh qtoken for qd, scoped to e's own operation
// counter so the token stays valid even if qd is removed from the
// table before the token is next polled (e.g. Close on a listener).
func (t *Table) newPending(qd QueueDescriptor, e *queueEntry, poll func() (Completion, bool), cancel func()) QToken {
	e.nextOp++
	tok := makeToken(qd, e.nextOp)
	t.pending[tok] = &pending{poll: poll, cancel: cancel}
	return tok
}

// Accept starts a passive-open admission wait on a listening qd.
func (t *Table) Accept(qd QueueDescriptor) (QToken, error) {
	e, ok := t.queues[qd]
	if !ok || e.kind != kindTCPListener {
		return 0, ErrBadState
	}
	return t.newPending(qd, e, func() (Completion, bool) {
		f, ok := e.listener.TryAccept()
		if !ok {
			return Completion{}, false
		}
		newQD := t.registerFlow(f)
		return Completion{Kind: KindAccept, QD: newQD}, true
	}, nil), nil
}

// Connect starts an active TCP open from qd to remoteIP:remotePort.
func (t *Table) Connect(qd QueueDescriptor, remoteIP [4]byte, remotePort uint16) (QToken, error) {
	e, ok := t.queues[qd]
	if !ok || e.kind != kindTCPUnbound {
		return 0, ErrBadState
	}
	f, req, err := t.tcp.Connect(remoteIP, remotePort)
	if err != nil {
		return 0, err
	}
	e.kind = kindTCPFlow
	e.tcpFlow = f
	return t.newPending(qd, e, func() (Completion, bool) {
		_, connErr, done := req.Result()
		if !done {
			return Completion{}, false
		}
		return Completion{Kind: KindConnect, Err: connErr}, true
	}, nil), nil
}

// Push enqueues payload for transmission on a TCP flow or, for a
// connected UDP socket, sends it to the fixed remote endpoint. Per
// spec.md §4.8, a push qtoken completes once the bytes have entered
// the send buffer, not once they are acknowledged. The TCP path
// enqueues synchronously, so its qtoken is already resolved the first
// time anything polls it; the UDP path spawns a send task and its
// qtoken resolves once that task (ARP resolution, then transmit) ends.
func (t *Table) Push(qd QueueDescriptor, payload []byte) (QToken, error) {
	e, ok := t.queues[qd]
	if !ok {
		return 0, ErrBadDescriptor
	}
	switch e.kind {
	case kindTCPFlow:
		err := e.tcpFlow.Send(payload)
		return t.newPending(qd, e, func() (Completion, bool) {
			return Completion{Kind: KindPush, Err: err}, true
		}, nil), nil
	case kindUDP:
		if !e.udpSock.Connected() {
			return 0, ErrBadState
		}
		task := e.udpSock.Send(e.udpSock.RemoteIP(), e.udpSock.RemotePort(), payload)
		id, _ := t.sched.Spawn(task)
		task.Bind(id)
		return t.newPending(qd, e, func() (Completion, bool) {
			if !task.Done() {
				return Completion{}, false
			}
			return Completion{Kind: KindPush, Err: task.Result()}, true
		}, nil), nil
	default:
		return 0, ErrBadState
	}
}

// PushTo sends payload to dstIP:dstPort on an unconnected UDP qd.
func (t *Table) PushTo(qd QueueDescriptor, dstIP [4]byte, dstPort uint16, payload []byte) (QToken, error) {
	e, ok := t.queues[qd]
	if !ok || e.kind != kindUDP {
		return 0, ErrBadState
	}
	task := e.udpSock.Send(dstIP, dstPort, payload)
	id, _ := t.sched.Spawn(task)
	task.Bind(id)
	return t.newPending(qd, e, func() (Completion, bool) {
		if !task.Done() {
			return Completion{}, false
		}
		return Completion{Kind: KindPush, Err: task.Result()}, true
	}, nil), nil
}

// Pop waits for the next inbound chunk on a TCP flow or UDP socket.
func (t *Table) Pop(qd QueueDescriptor) (QToken, error) {
	e, ok := t.queues[qd]
	if !ok {
		return 0, ErrBadDescriptor
	}
	switch e.kind {
	case kindTCPFlow:
		return t.newPending(qd, e, func() (Completion, bool) {
			if data, ok := e.tcpFlow.TryRecv(); ok {
				return Completion{Kind: KindPop, Data: data}, true
			}
			if e.tcpFlow.Eof() {
				return Completion{Kind: KindPop, Err: tcp.ErrClosed}, true
			}
			return Completion{}, false
		}, nil), nil
	case kindUDP:
		return t.newPending(qd, e, func() (Completion, bool) {
			d, ok := e.udpSock.TryPop()
			if !ok {
				return Completion{}, false
			}
			return Completion{Kind: KindPop, Data: d.Payload}, true
		}, nil), nil
	default:
		return 0, ErrBadState
	}
}

// Close starts an orderly close of qd (FIN for a TCP flow; releasing
// the bound port for a UDP socket or TCP listener).
func (t *Table) Close(qd QueueDescriptor) (QToken, error) {
	e, ok := t.queues[qd]
	if !ok {
		return 0, ErrBadDescriptor
	}
	switch e.kind {
	case kindTCPFlow:
		e.tcpFlow.Close()
		tok := t.newPending(qd, e, func() (Completion, bool) {
			if e.tcpFlow.State() == tcp.StateClosed {
				return Completion{Kind: KindClose}, true
			}
			return Completion{}, false
		}, nil)
		return tok, nil
	case kindTCPListener:
		e.listener.Close()
		tok := t.newPending(qd, e, func() (Completion, bool) { return Completion{Kind: KindClose}, true }, nil)
		delete(t.queues, qd)
		return tok, nil
	case kindUDP:
		e.udpSock.Close()
		tok := t.newPending(qd, e, func() (Completion, bool) { return Completion{Kind: KindClose}, true }, nil)
		delete(t.queues, qd)
		return tok, nil
	default:
		tok := t.newPending(qd, e, func() (Completion, bool) { return Completion{Kind: KindClose}, true }, nil)
		delete(t.queues, qd)
		return tok, nil
	}
}

// TryWait polls tok once without advancing the scheduler, returning
// immediately whether or not it is ready.
func (t *Table) TryWait(tok QToken) (Completion, bool) {
	p, ok := t.pending[tok]
	if !ok {
		return Completion{}, false
	}
	ready := p.tryAdvance()
	if ready {
		delete(t.pending, tok)
	}
	return p.result, ready
}

// Wait drives the poll loop (via Table's tick callback) until tok
// completes or timeout elapses (zero means no deadline).
func (t *Table) Wait(tok QToken, timeout time.Duration) (Completion, error) {
	p, ok := t.pending[tok]
	if !ok {
		return Completion{}, ErrBadDescriptor
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if p.tryAdvance() {
			delete(t.pending, tok)
			return p.result, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return Completion{}, ErrTimeout
		}
		t.step()
	}
}

// WaitAny returns the index and result of the first of toks to
// complete; the others remain pending for a later Wait/WaitAny.
func (t *Table) WaitAny(toks []QToken, timeout time.Duration) (int, Completion, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		for i, tok := range toks {
			p, ok := t.pending[tok]
			if !ok {
				continue
			}
			if p.tryAdvance() {
				delete(t.pending, tok)
				return i, p.result, nil
			}
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return -1, Completion{}, ErrTimeout
		}
		t.step()
	}
}

// Cancel marks tok cancelled: its pending entry is dropped and its
// cancel hook (if any) is invoked, per spec.md §4.8's cooperative
// cancellation — the owning task observes this at its own next
// suspension point, it is not preempted.
func (t *Table) Cancel(tok QToken) {
	p, ok := t.pending[tok]
	if !ok {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	delete(t.pending, tok)
}
