package tcp

import (
	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/runtime"
)

// Listener is a bound passive-open endpoint: a half-open (SYN-RECEIVED)
// table and a bounded accept queue of fully-established flows
// (spec.md §4.7, §8's SYN-flood backlog cap).
type Listener struct {
	arena     *Arena
	localPort uint16
	backlog   int

	pending map[FourTuple]*Flow
	ready   []*Flow
	waker   runtime.Waker
}

// SetAcceptWaker registers the Waker woken when a new flow lands in
// the ready queue.
func (l *Listener) SetAcceptWaker(w runtime.Waker) { l.waker = w }

// TryAccept returns the oldest fully-established inbound flow, if any.
func (l *Listener) TryAccept() (*Flow, bool) {
	if len(l.ready) == 0 {
		return nil, false
	}
	f := l.ready[0]
	l.ready = l.ready[1:]
	return f, true
}

// Close stops accepting new connections on this port. Flows already
// established are unaffected.
func (l *Listener) Close() {
	delete(l.arena.listeners, l.localPort)
}

func (l *Listener) abandon(tuple FourTuple) {
	delete(l.pending, tuple)
}

// handleSYN processes an inbound SYN for this listener: admits it into
// the half-open table (space permitting) and replies SYN-ACK.
func (l *Listener) handleSYN(tuple FourTuple, hdr headers.TCP) {
	if len(l.pending)+len(l.ready) >= l.backlog {
		if l.arena.observer != nil {
			l.arena.observer.ObserveSegmentDropped("tcp_backlog_full")
		}
		return
	}

	f := newFlow(l.arena, tuple)
	f.iss = initialSeq()
	f.irs = hdr.SeqNum
	f.state = StateSynReceived
	f.listener = l

	mss := uint32(constants.DefaultMSS)
	if hdr.Options.HasMSS {
		mss = uint32(hdr.Options.MSS)
	}
	f.send = newSender(f, mss)
	f.recv = newReceiverFromPeer(f, hdr.SeqNum+1)
	f.recv.mss = mss

	l.arena.register(f)
	l.pending[tuple] = f

	id, _ := l.arena.sched.Spawn(f)
	f.Bind(id)
	f.sendSynAck()
}

// admit moves a half-open flow into the ready queue once its handshake
// ACK arrives, or drops it if the accept queue has no room.
func (l *Listener) admit(f *Flow) {
	delete(l.pending, f.tuple)
	if len(l.ready) >= l.backlog {
		f.state = StateClosed
		f.arena.remove(f.tuple)
		return
	}
	l.ready = append(l.ready, f)
	l.waker.Wake()
}
