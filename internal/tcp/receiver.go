package tcp

import (
	"time"

	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/runtime"
)

// receiver is one flow's inbound half: in-order delivery buffer,
// out-of-order reassembly bounded by spec.md §6's reassembly cap, and
// the delayed-ACK timer.
type receiver struct {
	flow *Flow

	rcvNxt uint32
	window uint32 // advertised window budget, shrinks as buffered bytes grow
	mss    uint32 // negotiated peer MSS, for the two-full-segments delayed-ACK rule

	readBuf    []byte
	outOfOrder map[uint32][]byte
	buffered   int // bytes currently held (readBuf + outOfOrder), bounded by cap

	finReceived bool
	pendingFIN  uint32 // set when a FIN arrives ahead of rcvNxt
	hasPendingFIN bool
	eof bool

	waker runtime.Waker

	delayedACKArmed    bool
	delayedACKDeadline time.Time
	delayedACKHandle   uint64

	fullSegStreak        int    // consecutive full-sized in-order segments since the last ACK
	lastAdvertisedWindow uint16 // window value last put on the wire, for window-update detection
	immediateACKPending  bool   // set by accept/tryRead, consumed by Flow after the call
}

func newReceiver(f *Flow) *receiver {
	return &receiver{
		flow: f, window: uint32(constants.DefaultReassemblyBytes),
		mss:        constants.DefaultMSS,
		outOfOrder: make(map[uint32][]byte),
	}
}

func newReceiverFromPeer(f *Flow, rcvNxt uint32) *receiver {
	r := newReceiver(f)
	r.rcvNxt = rcvNxt
	return r
}

// advertisedWindow reports the receive window to put in outgoing
// segments: the configured cap minus bytes already buffered.
func (r *receiver) advertisedWindow() uint16 {
	cap := uint32(constants.DefaultReassemblyBytes)
	if uint32(r.buffered) >= cap {
		return 0
	}
	remaining := cap - uint32(r.buffered)
	if remaining > 0xffff {
		remaining = 0xffff
	}
	return uint16(remaining)
}

// accept processes an inbound data segment starting at seq: delivers
// it immediately if in-order, buffers it for later reassembly if it's
// a future segment within the cap, or drops it (as a duplicate or
// cap-exceeding segment).
//
// Per RFC 5681 §4.2 / RFC 1122 §4.2.3.2, an ACK must go out immediately
// rather than waiting on the delayed-ACK timer in three cases: the
// segment arrives out of order (so the sender's dup-ACK counter can
// advance and trigger fast retransmit), a duplicate arrives, or this is
// the second consecutive full-sized in-order segment since the last ACK.
func (r *receiver) accept(seq uint32, payload []byte) {
	if seq == r.rcvNxt {
		full := r.mss > 0 && uint32(len(payload)) >= r.mss
		r.deliver(payload)
		r.drainReassembled()
		if full {
			r.fullSegStreak++
		} else {
			r.fullSegStreak = 0
		}
		if r.fullSegStreak >= 2 {
			r.fullSegStreak = 0
			r.requestImmediateACK()
		} else {
			r.armDelayedACK()
		}
		return
	}
	if seqLess(seq, r.rcvNxt) {
		r.requestImmediateACK() // fully- or partially-duplicate; no partial-overlap trim, whole segment dropped
		return
	}
	if r.buffered+len(payload) > constants.DefaultReassemblyBytes {
		if r.flow.observer != nil {
			r.flow.observer.ObserveSegmentDropped("reassembly_cap")
		}
		return
	}
	r.outOfOrder[seq] = append([]byte(nil), payload...)
	r.buffered += len(payload)
	r.requestImmediateACK()
}

// requestImmediateACK flags that the caller should send a pure ACK now
// instead of deferring to the delayed-ACK timer.
func (r *receiver) requestImmediateACK() {
	r.immediateACKPending = true
}

// takeImmediateACK reports and clears whether accept/tryRead
// requested an immediate ACK since the last call.
func (r *receiver) takeImmediateACK() bool {
	v := r.immediateACKPending
	r.immediateACKPending = false
	return v
}

// noteWindowSent records the receive window actually placed on the wire,
// so a later tryRead can detect a zero-to-nonzero window reopening.
func (r *receiver) noteWindowSent(w uint16) {
	r.lastAdvertisedWindow = w
}

func (r *receiver) deliver(payload []byte) {
	r.readBuf = append(r.readBuf, payload...)
	r.buffered += len(payload)
	r.rcvNxt += uint32(len(payload))
	r.waker.Wake()
}

// drainReassembled moves any now-contiguous out-of-order segments into
// readBuf once rcvNxt catches up to them.
func (r *receiver) drainReassembled() {
	for {
		seg, ok := r.outOfOrder[r.rcvNxt]
		if !ok {
			break
		}
		delete(r.outOfOrder, r.rcvNxt)
		r.readBuf = append(r.readBuf, seg...)
		r.rcvNxt += uint32(len(seg))
		r.waker.Wake()
	}
	if r.hasPendingFIN && r.pendingFIN == r.rcvNxt {
		r.finishFIN()
	}
}

// acceptFIN processes a FIN at sequence seq (the sequence number of
// the FIN byte itself, i.e. one past the last data byte).
func (r *receiver) acceptFIN(seq uint32) {
	if seq == r.rcvNxt {
		r.finishFIN()
		return
	}
	if seqLess(seq, r.rcvNxt) {
		return
	}
	r.pendingFIN = seq
	r.hasPendingFIN = true
}

func (r *receiver) finishFIN() {
	if r.finReceived {
		return
	}
	r.finReceived = true
	r.eof = true
	r.rcvNxt++
	r.waker.Wake()
}

// tryRead returns any buffered in-order bytes, if present. Draining the
// buffer can reopen a window that was previously zero or near-zero; when
// it does, the caller must ACK immediately rather than let a persist-
// probing peer wait out its backoff (spec.md §4.7's window-update rule).
func (r *receiver) tryRead() ([]byte, bool) {
	if len(r.readBuf) == 0 {
		return nil, false
	}
	data := r.readBuf
	r.readBuf = nil
	r.buffered -= len(data)
	if r.lastAdvertisedWindow == 0 && r.advertisedWindow() > 0 {
		r.requestImmediateACK()
	}
	return data, true
}

func (r *receiver) armDelayedACK() {
	if r.delayedACKArmed || r.flow == nil || r.flow.sched == nil {
		return
	}
	r.delayedACKDeadline = time.Now().Add(constants.DefaultDelayedACKTimeout)
	r.delayedACKHandle = r.flow.sched.SleepUntil(r.flow.taskID, r.delayedACKDeadline)
	r.delayedACKArmed = true
}

func (r *receiver) clearDelayedACK() {
	if r.delayedACKArmed && r.flow != nil && r.flow.sched != nil {
		r.flow.sched.CancelTimer(r.delayedACKHandle)
	}
	r.delayedACKArmed = false
}

func (r *receiver) delayedACKDue(now time.Time) bool {
	return r.delayedACKArmed && !now.Before(r.delayedACKDeadline)
}
