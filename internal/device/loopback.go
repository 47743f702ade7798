package device

import (
	"sync"

	"github.com/catnipstack/catnip/internal/buf"
)

// LoopbackDevice is a Device implementation with no underlying NIC: it
// exchanges frames with a peer LoopbackDevice (or with a test harness
// that injects/inspects frames directly) through an unbounded,
// mutex-guarded receive queue.
// This is the device-layer analogue of the teacher's stubLoop — it
// lets every protocol layer above it run in tests without a real
// raw socket or root privileges.
type LoopbackDevice struct {
	mac  [6]byte
	pool *buf.Pool

	mu      sync.Mutex
	rxQueue []*buf.Buffer
	peer    *LoopbackDevice

	txDropRate float64 // fraction of TX frames to silently drop, for loss-injection tests
	dropN      uint64
}

// NewLoopbackDevice creates an unpaired loopback device. Use
// NewLoopbackPair to wire two together.
func NewLoopbackDevice(mac [6]byte) *LoopbackDevice {
	return &LoopbackDevice{mac: mac, pool: buf.NewPool()}
}

// NewLoopbackPair creates two loopback devices wired to each other,
// used by end-to-end tests to run two full LibOS instances in one
// process (spec.md §8 scenarios).
func NewLoopbackPair(macA, macB [6]byte) (*LoopbackDevice, *LoopbackDevice) {
	a := NewLoopbackDevice(macA)
	b := NewLoopbackDevice(macB)
	a.peer = b
	b.peer = a
	return a, b
}

// SetLossRate configures a fraction [0,1] of transmitted frames to be
// dropped before reaching the peer, for the lossy-channel scenario of
// spec.md §8 (bulk transfer over 1% loss).
func (d *LoopbackDevice) SetLossRate(rate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txDropRate = rate
}

func (d *LoopbackDevice) Receive(burst []*buf.Buffer) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for n < len(burst) && len(d.rxQueue) > 0 {
		burst[n] = d.rxQueue[0]
		d.rxQueue = d.rxQueue[1:]
		n++
	}
	return n, nil
}

func (d *LoopbackDevice) Transmit(frame *buf.Buffer) (bool, error) {
	d.mu.Lock()
	peer := d.peer
	drop := false
	if d.txDropRate > 0 {
		d.dropN++
		// Deterministic pseudo-loss: drop every Nth frame at roughly
		// the configured rate, avoiding a dependency on math/rand for
		// reproducible tests.
		threshold := uint64(1 / d.txDropRate)
		if threshold == 0 {
			threshold = 1
		}
		drop = d.dropN%threshold == 0
	}
	d.mu.Unlock()

	if peer == nil || drop {
		frame.Drop()
		return !drop, nil
	}

	peer.mu.Lock()
	peer.rxQueue = append(peer.rxQueue, frame)
	peer.mu.Unlock()
	return true, nil
}

func (d *LoopbackDevice) MAC() [6]byte   { return d.mac }
func (d *LoopbackDevice) Pool() *buf.Pool { return d.pool }
func (d *LoopbackDevice) Close() error    { return nil }
