// Package tcp implements the per-flow TCP state machine of spec.md
// §4.7 (C8): connection establishment/teardown, sliding-window send and
// receive, retransmission, and NewReno congestion control. Grounded on
// the teacher's queue.Runner per-tag state machine (a TagState enum
// plus per-tag mutable fields driven by one pinned loop), generalized
// here from "one ublk tag's FETCH/COMMIT cycle" to "one TCP flow's
// segment lifecycle," and on spec.md §9's "arena of flows keyed by
// flow-id" design note for the arena.
package tcp

import "github.com/catnipstack/catnip/internal/constants"

// congestion implements RFC 5681 NewReno: slow start, congestion
// avoidance, and fast retransmit/fast recovery on three duplicate ACKs.
type congestion struct {
	cwnd       uint32
	ssthresh   uint32
	mss        uint32
	dupACKs    int
	inRecovery bool
	recoverySeq uint32
}

func newCongestion(mss uint32) *congestion {
	return &congestion{
		cwnd:     uint32(constants.InitialCwndSegments) * mss,
		ssthresh: 1 << 30, // effectively unbounded until a loss is observed
		mss:      mss,
	}
}

// onNewACK is called when an ACK covers previously-unacked data (not a
// duplicate). ackedBytes is how much new data it covers.
func (c *congestion) onNewACK(ackedBytes uint32) {
	c.dupACKs = 0
	if c.inRecovery {
		c.inRecovery = false
		c.cwnd = c.ssthresh
		return
	}
	if c.cwnd < c.ssthresh {
		// Slow start: grow by one MSS per ACK.
		c.cwnd += c.mss
	} else {
		// Congestion avoidance: grow by roughly one MSS per RTT.
		inc := (c.mss * c.mss) / c.cwnd
		if inc == 0 {
			inc = 1
		}
		c.cwnd += inc
	}
}

// onDuplicateACK returns true when the third duplicate ACK triggers a
// fast retransmit; the caller should resend the oldest unacked segment
// and call enterFastRecovery. Once already in fast recovery, each further
// duplicate ACK inflates cwnd by one MSS (RFC 5681 §3.2 step 4) instead
// of triggering another retransmit; a new cumulative ACK deflates it back
// to ssthresh via onNewACK.
func (c *congestion) onDuplicateACK() bool {
	c.dupACKs++
	if c.inRecovery {
		c.cwnd += c.mss
		return false
	}
	return c.dupACKs == constants.DupACKThreshold
}

// enterFastRecovery sets ssthresh to half the flight size (at least
// 2 MSS) and inflates cwnd to ssthresh plus the dup-ACK threshold in MSS
// (RFC 5681 §3.2 steps 2-3), for the fast-retransmit sender.
func (c *congestion) enterFastRecovery(flightSize uint32, highestSent uint32) {
	c.ssthresh = flightSize / 2
	if c.ssthresh < 2*c.mss {
		c.ssthresh = 2 * c.mss
	}
	c.cwnd = c.ssthresh + uint32(constants.DupACKThreshold)*c.mss
	c.inRecovery = true
	c.recoverySeq = highestSent
}

// onRTOExpired resets to slow start from scratch (RFC 5681: "on
// timeout, ssthresh = flightSize/2, cwnd = 1 MSS").
func (c *congestion) onRTOExpired(flightSize uint32) {
	c.ssthresh = flightSize / 2
	if c.ssthresh < 2*c.mss {
		c.ssthresh = 2 * c.mss
	}
	c.cwnd = c.mss
	c.dupACKs = 0
	c.inRecovery = false
}

// window reports the number of bytes currently permitted in flight.
func (c *congestion) window() uint32 { return c.cwnd }
