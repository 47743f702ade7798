package tcp

import (
	"time"

	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
)

// outSegment is one transmitted-but-not-yet-acked byte range, tracked
// for retransmission and RTT sampling.
type outSegment struct {
	seq           uint32
	data          []byte
	sentAt        time.Time
	retransmitted bool // exclude from RTT sampling (Karn's algorithm)
}

// sender is one flow's outbound half: the unsent application buffer,
// the in-flight window, RTO/persist timers, RTT estimation, and the
// NewReno congestion controller.
type sender struct {
	flow *Flow

	mss  uint32
	cong *congestion

	sendBuf []byte // queued, not yet segmented into the window
	unacked []outSegment
	nextSeq uint32 // SND.NXT
	unackedBase uint32 // SND.UNA

	peerWindow uint32 // last advertised receive window from the peer

	finQueued bool
	finSeq    uint32
	finAckedFlag bool

	synAttempts   int
	synRetryDeadline time.Time
	synRetryHandle   uint64
	synArmed         bool

	rtoHandle   uint64
	rtoDeadline time.Time
	rtoArmed    bool
	rto         time.Duration
	srtt, rttvar time.Duration
	hasRTTSample bool

	persistHandle   uint64
	persistDeadline time.Time
	persistArmed    bool
	persistBackoff  time.Duration
}

func newSender(f *Flow, mss uint32) *sender {
	return &sender{
		flow: f, mss: mss, cong: newCongestion(mss),
		nextSeq: f.iss + 1, unackedBase: f.iss + 1,
		rto: constants.DefaultTCPRTOMin,
		peerWindow: uint32(mss) * 4,
	}
}

func (s *sender) armSynRetry() {
	s.synAttempts++
	s.synRetryDeadline = time.Now().Add(constants.DefaultTCPRTOMin << uint(s.synAttempts-1))
	s.synRetryHandle = s.flow.sched.SleepUntil(s.flow.taskID, s.synRetryDeadline)
	s.synArmed = true
}

func (s *sender) synRetryDue(now time.Time) bool {
	return s.synArmed && !now.Before(s.synRetryDeadline)
}

func (s *sender) cancelSynRetry() {
	if s.synArmed {
		s.flow.sched.CancelTimer(s.synRetryHandle)
		s.synArmed = false
	}
}

// queue appends application data to the unsent buffer; pump later
// segments it into the window.
func (s *sender) queue(payload []byte) {
	s.sendBuf = append(s.sendBuf, payload...)
}

func (s *sender) queueFIN() {
	s.finQueued = true
}

func (s *sender) finAcked() bool { return s.finAckedFlag }

// flightSize reports bytes currently sent but unacknowledged.
func (s *sender) flightSize() uint32 {
	if s.nextSeq >= s.unackedBase {
		return s.nextSeq - s.unackedBase
	}
	return 0
}

// pump segments sendBuf into the window, respecting cwnd, the peer's
// advertised window, and a light Nagle rule: don't emit a sub-MSS
// segment while data is already in flight, unless nothing is queued
// behind it indefinitely (the flow's own retransmit/ACK cycle will
// eventually drain it).
func (s *sender) pump() {
	for len(s.sendBuf) > 0 {
		allowed := s.windowRemaining()
		if allowed == 0 {
			s.armPersistIfNeeded()
			return
		}
		chunk := uint32(len(s.sendBuf))
		if chunk > s.mss {
			chunk = s.mss
		}
		if chunk > allowed {
			chunk = allowed
		}
		if chunk < s.mss && s.flightSize() > 0 && uint32(len(s.sendBuf)) <= chunk {
			// Nagle: hold the trailing partial segment until the
			// outstanding data is acked.
			return
		}

		data := s.sendBuf[:chunk]
		s.sendBuf = s.sendBuf[chunk:]
		seq := s.nextSeq
		s.unacked = append(s.unacked, outSegment{seq: seq, data: append([]byte(nil), data...), sentAt: time.Now()})
		s.nextSeq += chunk

		s.flow.transmit(headers.FlagACK, seq, s.flow.recv.rcvNxt, s.flow.recv.advertisedWindow(), data, headers.Options{})
		s.armRTOIfNeeded()
	}

	if s.finQueued && !s.finAckedFlag && s.finSeq == 0 {
		s.finSeq = s.nextSeq
		s.nextSeq++
	}
}

func (s *sender) windowRemaining() uint32 {
	cwndRemaining := int64(s.cong.window()) - int64(s.flightSize())
	peerRemaining := int64(s.peerWindow) - int64(s.flightSize())
	allowed := cwndRemaining
	if peerRemaining < allowed {
		allowed = peerRemaining
	}
	if allowed < 0 {
		return 0
	}
	return uint32(allowed)
}

// onACK processes a new ACK number and the peer's current advertised
// window, clearing acknowledged segments, sampling RTT, and driving
// congestion control / duplicate-ACK detection.
func (s *sender) onACK(ackNum uint32, window uint16) {
	s.peerWindow = uint32(window)

	if ackNum == s.unackedBase {
		if len(s.unacked) > 0 || (s.finQueued && !s.finAckedFlag) {
			if s.cong.onDuplicateACK() {
				s.retransmitOldest()
				s.cong.enterFastRecovery(s.flightSize(), s.nextSeq)
			}
		}
		return
	}
	if seqLess(ackNum, s.unackedBase) {
		return // old ACK
	}

	acked := ackNum - s.unackedBase
	s.unackedBase = ackNum
	s.cong.onNewACK(acked)
	s.disarmPersist()

	for len(s.unacked) > 0 && !seqLess(ackNum, s.unacked[0].seq+uint32(len(s.unacked[0].data))) {
		seg := s.unacked[0]
		s.unacked = s.unacked[1:]
		if !seg.retransmitted {
			s.sampleRTT(time.Since(seg.sentAt))
		}
	}

	if s.finQueued && s.finSeq != 0 && !seqLess(ackNum, s.finSeq+1) {
		s.finAckedFlag = true
	}

	if len(s.unacked) == 0 {
		s.disarmRTO()
	} else {
		s.armRTOIfNeeded()
	}
}

func seqLess(a, b uint32) bool { return int32(a-b) < 0 }

func (s *sender) sampleRTT(sample time.Duration) {
	if !s.hasRTTSample {
		s.srtt = sample
		s.rttvar = sample / 2
		s.hasRTTSample = true
	} else {
		diff := s.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		s.rttvar = s.rttvar - s.rttvar/4 + diff/4
		s.srtt = s.srtt - s.srtt/8 + sample/8
	}
	rto := s.srtt + 4*s.rttvar
	if rto < constants.DefaultTCPRTOMin {
		rto = constants.DefaultTCPRTOMin
	}
	if rto > constants.DefaultTCPRTOMax {
		rto = constants.DefaultTCPRTOMax
	}
	s.rto = rto
}

func (s *sender) armRTOIfNeeded() {
	if s.rtoArmed {
		return
	}
	s.rtoDeadline = time.Now().Add(s.rto)
	s.rtoHandle = s.flow.sched.SleepUntil(s.flow.taskID, s.rtoDeadline)
	s.rtoArmed = true
}

func (s *sender) disarmRTO() {
	if s.rtoArmed {
		s.flow.sched.CancelTimer(s.rtoHandle)
		s.rtoArmed = false
	}
}

func (s *sender) rtoDue(now time.Time) bool {
	return s.rtoArmed && !now.Before(s.rtoDeadline)
}

// retransmitOldest resends the earliest unacked segment verbatim,
// doubling the RTO per the exponential-backoff rule of RFC 6298 §5.5.
func (s *sender) retransmitOldest() {
	s.rtoArmed = false
	if len(s.unacked) == 0 {
		return
	}
	seg := &s.unacked[0]
	seg.retransmitted = true
	seg.sentAt = time.Now()
	s.flow.transmit(headers.FlagACK, seg.seq, s.flow.recv.rcvNxt, s.flow.recv.advertisedWindow(), seg.data, headers.Options{})

	s.rto *= 2
	if s.rto > constants.DefaultTCPRTOMax {
		s.rto = constants.DefaultTCPRTOMax
	}
	s.armRTOIfNeeded()
}

func (s *sender) armPersistIfNeeded() {
	if s.persistArmed || s.peerWindow > 0 {
		return
	}
	if s.persistBackoff == 0 {
		s.persistBackoff = constants.DefaultPersistTimeout
	}
	s.persistDeadline = time.Now().Add(s.persistBackoff)
	s.persistHandle = s.flow.sched.SleepUntil(s.flow.taskID, s.persistDeadline)
	s.persistArmed = true
}

func (s *sender) rearmPersist() {
	s.persistArmed = false
	s.persistBackoff *= 2
	if s.persistBackoff > constants.DefaultPersistTimeoutMax {
		s.persistBackoff = constants.DefaultPersistTimeoutMax
	}
	s.armPersistIfNeeded()
}

func (s *sender) disarmPersist() {
	if s.persistArmed {
		s.flow.sched.CancelTimer(s.persistHandle)
		s.persistArmed = false
	}
	s.persistBackoff = 0
}

func (s *sender) persistDue(now time.Time) bool {
	return s.persistArmed && !now.Before(s.persistDeadline)
}

// persistProbeByte returns a single byte of unacked-but-unsent data to
// probe a zero window with, or nil if there's nothing queued yet.
func (s *sender) persistProbeByte() []byte {
	if len(s.sendBuf) == 0 {
		return nil
	}
	return s.sendBuf[:1]
}
