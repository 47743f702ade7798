package tcp

import (
	"time"

	"github.com/rs/xid"

	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/interfaces"
	"github.com/catnipstack/catnip/internal/runtime"
)

// State is a TCP connection state (RFC 793 §3.2). All eleven states are
// listed, but no Flow is ever put in StateListen: passive opens are
// handled by Listener.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

// FourTuple identifies a flow's endpoints, the arena's lookup key.
type FourTuple struct {
	LocalIP    [4]byte
	LocalPort  uint16
	RemoteIP   [4]byte
	RemotePort uint16
}

// ConnectRequest is the ticket returned by an active open; it becomes
// ready once the handshake completes or fails (spec.md §4.8's connect
// qtoken), following the same pattern as arp.Request.
type ConnectRequest struct {
	flow *Flow
	err  error
	done bool
}

func (r *ConnectRequest) Result() (*Flow, error, bool) { return r.flow, r.err, r.done }

// Flow is one TCP connection's full state: handshake sequence numbers,
// sender/receiver, negotiated options, and armed timers. It implements
// runtime.Task so the scheduler drives its retransmit/persist/delayed-
// ACK/time-wait timers the same way internal/arp drives a resolution
// retry.
type Flow struct {
	arena *Arena
	id    xid.ID
	tuple FourTuple

	state State
	iss   uint32
	irs   uint32

	sched    *runtime.Scheduler
	taskID   runtime.TaskID
	waker    runtime.Waker
	observer interfaces.Observer

	send *sender
	recv *receiver

	tsEnabled bool

	connectReq *ConnectRequest
	closeWaker *runtime.Waker // woken when a graceful close finishes

	twDeadline time.Time
	twArmed    bool

	listener *Listener // set for passively-opened flows, for backlog bookkeeping
}

func newFlow(arena *Arena, tuple FourTuple) *Flow {
	f := &Flow{
		arena: arena, tuple: tuple,
		id:       xid.New(),
		sched:    arena.sched,
		observer: arena.observer,
	}
	return f
}

// transmit builds and sends one TCP segment for this flow.
func (f *Flow) transmit(flags uint8, seq, ack uint32, window uint16, payload []byte, opts headers.Options) {
	hdr := headers.TCP{
		SrcPort: f.tuple.LocalPort, DstPort: f.tuple.RemotePort,
		SeqNum: seq, AckNum: ack, Flags: flags, Window: window, Options: opts,
	}
	buf := make([]byte, hdr.HeaderLen()+len(payload))
	headers.SerializeTCP(buf, hdr, payload, f.tuple.LocalIP, f.tuple.RemoteIP)

	if f.recv != nil {
		f.recv.noteWindowSent(window)
	}
	task := f.arena.stack.Send(f.tuple.RemoteIP, headers.ProtoTCP, buf)
	id, _ := f.sched.Spawn(task)
	task.Bind(id)
	if f.observer != nil {
		f.observer.ObserveSegmentSent(len(payload), false)
	}
}

// connect starts an active open, arming the SYN-retry cycle. The
// caller must spawn the returned Flow as a task (it is its own retry
// driver, mirroring internal/arp's retryTask pattern) and Bind the id.
func connect(arena *Arena, tuple FourTuple) (*Flow, *ConnectRequest) {
	f := newFlow(arena, tuple)
	f.iss = initialSeq()
	f.state = StateSynSent
	f.send = newSender(f, constants.DefaultMSS)
	f.recv = newReceiver(f)
	req := &ConnectRequest{}
	f.connectReq = req
	return f, req
}

// Bind must be called with the TaskID returned by spawning this flow,
// before its first Poll.
func (f *Flow) Bind(id runtime.TaskID) {
	f.taskID = id
	f.waker = f.sched.NewWaker(id)
	if f.state == StateSynSent {
		f.sendSYN()
	}
}

func (f *Flow) sendSYN() {
	opts := headers.Options{MSS: constants.DefaultMSS, HasMSS: true}
	f.transmit(headers.FlagSYN, f.iss, 0, f.recv.advertisedWindow(), nil, opts)
	f.send.armSynRetry()
}

func (f *Flow) sendSynAck() {
	opts := headers.Options{MSS: uint16(f.send.mss), HasMSS: true}
	f.transmit(headers.FlagSYN|headers.FlagACK, f.iss, f.recv.rcvNxt, f.recv.advertisedWindow(), nil, opts)
	f.send.armSynRetry()
}

// Poll drives this flow's timers: SYN retry, RTO retransmit, zero-
// window persist, delayed ACK, and 2MSL time-wait expiry.
func (f *Flow) Poll() runtime.PollResult {
	now := time.Now()

	if f.state == StateTimeWait {
		if f.twArmed && !now.Before(f.twDeadline) {
			f.close()
			return runtime.Complete
		}
		return runtime.Pending
	}

	if f.state == StateSynSent || f.state == StateSynReceived {
		if f.send.synRetryDue(now) {
			if f.send.synAttempts >= constants.DefaultTCPSynRetries {
				if f.state == StateSynSent {
					f.failConnect(ErrTimeout)
				} else {
					if f.listener != nil {
						f.listener.abandon(f.tuple)
					}
					f.arena.remove(f.tuple)
				}
				return runtime.Complete
			}
			if f.state == StateSynSent {
				f.sendSYN()
			} else {
				f.sendSynAck()
			}
		}
		return runtime.Pending
	}

	if f.send.rtoDue(now) {
		f.handleRTO()
	}
	if f.send.persistDue(now) {
		f.sendPersistProbe()
	}
	if f.recv.delayedACKDue(now) {
		f.sendPureACK()
	}
	f.send.pump()

	if f.state == StateClosed {
		return runtime.Complete
	}
	return runtime.Pending
}

func (f *Flow) handleRTO() {
	flight := f.send.flightSize()
	f.send.cong.onRTOExpired(flight)
	f.send.retransmitOldest()
	if f.observer != nil {
		f.observer.ObserveSegmentSent(0, true)
	}
}

func (f *Flow) sendPersistProbe() {
	probe := f.send.persistProbeByte()
	f.transmit(headers.FlagACK, f.send.nextSeq, f.recv.rcvNxt, f.recv.advertisedWindow(), probe, headers.Options{})
	f.send.rearmPersist()
}

func (f *Flow) sendPureACK() {
	f.transmit(headers.FlagACK, f.send.nextSeq, f.recv.rcvNxt, f.recv.advertisedWindow(), nil, headers.Options{})
	f.recv.clearDelayedACK()
}

// HandleSegment processes one inbound TCP segment addressed to this
// flow; called synchronously from the arena's dispatch, not via the
// scheduler.
func (f *Flow) HandleSegment(hdr headers.TCP, payload []byte) {
	if hdr.Has(headers.FlagRST) {
		f.handleRST()
		return
	}

	switch f.state {
	case StateSynSent:
		f.handleSynSentSegment(hdr)
	case StateSynReceived:
		f.handleSynReceivedSegment(hdr)
	case StateEstablished, StateCloseWait:
		f.handleDataSegment(hdr, payload)
	case StateFinWait1, StateFinWait2, StateClosing, StateLastAck:
		f.handleTeardownSegment(hdr, payload)
	}
}

func (f *Flow) handleSynSentSegment(hdr headers.TCP) {
	if !hdr.Has(headers.FlagSYN) {
		return
	}
	if hdr.Has(headers.FlagACK) && hdr.AckNum != f.iss+1 {
		return
	}
	f.irs = hdr.SeqNum
	f.recv = newReceiverFromPeer(f, hdr.SeqNum+1)
	f.send.cancelSynRetry()
	mss := uint32(constants.DefaultMSS)
	if hdr.Options.HasMSS {
		mss = uint32(hdr.Options.MSS)
	}
	f.send.mss = mss
	f.send.cong = newCongestion(mss)
	f.recv.mss = mss

	if hdr.Has(headers.FlagACK) {
		f.state = StateEstablished
		f.send.unackedBase = hdr.AckNum
		f.transmit(headers.FlagACK, f.send.nextSeq, f.recv.rcvNxt, f.recv.advertisedWindow(), nil, headers.Options{})
		f.completeConnect()
	} else {
		// Simultaneous open: peer also sent a bare SYN.
		f.state = StateSynReceived
		f.sendSynAck()
	}
}

func (f *Flow) handleSynReceivedSegment(hdr headers.TCP) {
	if !hdr.Has(headers.FlagACK) || hdr.AckNum != f.iss+1 {
		return
	}
	f.send.cancelSynRetry()
	f.state = StateEstablished
	f.send.unackedBase = hdr.AckNum
	f.completeConnect()
	if f.listener != nil {
		f.listener.admit(f)
	}
}

func (f *Flow) handleDataSegment(hdr headers.TCP, payload []byte) {
	if hdr.Has(headers.FlagACK) {
		f.send.onACK(hdr.AckNum, hdr.Window)
	}
	if len(payload) > 0 {
		f.recv.accept(hdr.SeqNum, payload)
	}
	if hdr.Has(headers.FlagFIN) {
		f.recv.acceptFIN(hdr.SeqNum)
		if f.state == StateEstablished {
			f.state = StateCloseWait
		}
		f.transmit(headers.FlagACK, f.send.nextSeq, f.recv.rcvNxt, f.recv.advertisedWindow(), nil, headers.Options{})
		f.recv.clearDelayedACK()
		f.recv.takeImmediateACK() // the FIN's ACK already covers any pending reason to ACK now
		return
	}
	if f.recv.takeImmediateACK() {
		f.sendPureACK()
	}
}

func (f *Flow) handleTeardownSegment(hdr headers.TCP, payload []byte) {
	if hdr.Has(headers.FlagACK) {
		f.send.onACK(hdr.AckNum, hdr.Window)
		if f.state == StateFinWait1 && f.send.finAcked() {
			f.state = StateFinWait2
		}
		if f.state == StateClosing && f.send.finAcked() {
			f.enterTimeWait()
		}
		if f.state == StateLastAck && f.send.finAcked() {
			f.close()
		}
	}
	if len(payload) > 0 {
		f.recv.accept(hdr.SeqNum, payload)
	}
	if hdr.Has(headers.FlagFIN) {
		f.recv.acceptFIN(hdr.SeqNum)
		f.transmit(headers.FlagACK, f.send.nextSeq, f.recv.rcvNxt, f.recv.advertisedWindow(), nil, headers.Options{})
		f.recv.clearDelayedACK()
		f.recv.takeImmediateACK()
		switch f.state {
		case StateFinWait1:
			f.state = StateClosing
		case StateFinWait2:
			f.enterTimeWait()
		}
		return
	}
	if f.recv.takeImmediateACK() {
		f.sendPureACK()
	}
}

// abortUnreachable aborts the flow in response to an ICMP destination
// unreachable message quoting one of its segments. A connect still in
// progress fails with ErrUnreachable; any other flow is closed and
// removed from the arena, and no error is recorded on it, so later
// operations on it do not report Unreachable.
func (f *Flow) abortUnreachable() {
	if f.connectReq != nil {
		f.failConnect(ErrUnreachable)
		return
	}
	f.state = StateClosed
	f.arena.remove(f.tuple)
	if f.closeWaker != nil {
		f.closeWaker.Wake()
	}
}

func (f *Flow) handleRST() {
	wasConnecting := f.state == StateSynSent || f.state == StateSynReceived
	f.state = StateClosed
	if wasConnecting {
		f.failConnect(ErrConnectionRefused)
		return
	}
	if f.closeWaker != nil {
		f.closeWaker.Wake()
	}
	f.arena.remove(f.tuple)
}

// Close starts a graceful active close (spec.md §4.8's close op):
// send FIN, transition per RFC 793's active-close path.
func (f *Flow) Close() {
	switch f.state {
	case StateEstablished:
		f.state = StateFinWait1
	case StateCloseWait:
		f.state = StateLastAck
	default:
		return
	}
	f.send.queueFIN()
	f.transmit(headers.FlagFIN|headers.FlagACK, f.send.nextSeq, f.recv.rcvNxt, f.recv.advertisedWindow(), nil, headers.Options{})
	f.send.nextSeq++
}

func (f *Flow) enterTimeWait() {
	f.state = StateTimeWait
	f.twDeadline = time.Now().Add(2 * constants.DefaultMSL)
	f.twArmed = true
	if f.sched != nil {
		f.sched.SleepUntil(f.taskID, f.twDeadline)
	}
}

func (f *Flow) close() {
	f.state = StateClosed
	f.arena.remove(f.tuple)
	if f.closeWaker != nil {
		f.closeWaker.Wake()
	}
}

func (f *Flow) completeConnect() {
	if f.connectReq == nil {
		return
	}
	f.connectReq.flow = f
	f.connectReq.done = true
	f.waker.Wake()
	f.connectReq = nil
}

func (f *Flow) failConnect(err error) {
	f.arena.remove(f.tuple)
	if f.connectReq == nil {
		return
	}
	f.connectReq.err = err
	f.connectReq.done = true
	f.waker.Wake()
	f.connectReq = nil
}

// Send queues payload for transmission. Only valid while the local
// side has not yet sent FIN.
func (f *Flow) Send(payload []byte) error {
	switch f.state {
	case StateEstablished, StateCloseWait:
		f.send.queue(payload)
		f.waker.Wake()
		return nil
	default:
		return ErrBadState
	}
}

// TryRecv returns the next contiguous chunk of received data, if any. If
// draining the buffer reopened a previously-zero receive window, it ACKs
// immediately so a persist-probing peer can resume without waiting out
// its backoff.
func (f *Flow) TryRecv() ([]byte, bool) {
	data, ok := f.recv.tryRead()
	if f.recv.takeImmediateACK() {
		f.sendPureACK()
	}
	return data, ok
}

// SetRecvWaker registers the Waker woken when new data (or EOF) arrives.
func (f *Flow) SetRecvWaker(w runtime.Waker) { f.recv.waker = w }

// SetCloseWaker registers the Waker woken once a graceful or aborted
// close fully completes (flow reaches Closed).
func (f *Flow) SetCloseWaker(w runtime.Waker) { f.closeWaker = &w }

// Eof reports whether the peer's FIN has been delivered and every
// byte preceding it has already been read out via TryRecv.
func (f *Flow) Eof() bool { return f.recv.eof && len(f.recv.readBuf) == 0 }

// State reports the flow's current TCP state, for tests and diagnostics.
func (f *Flow) State() State { return f.state }

var _ runtime.Task = (*Flow)(nil)

func initialSeq() uint32 {
	// A real stack derives ISS from a monotonic clock-driven counter
	// (RFC 793 §3.3) to resist old-duplicate confusion; time.Now()'s
	// nanosecond component is a reasonable substitute for a userspace
	// LibOS with no persistent counter across restarts.
	return uint32(time.Now().UnixNano())
}
