package catnip

import (
	"net"

	"github.com/catnipstack/catnip/internal/device"
)

// NewTestPair builds two fully-wired LibOS instances joined by an
// in-process loopback device pair, for exercising end-to-end scenarios
// without a real NIC or root privileges. This is the facade-level
// analogue of the teacher's MockBackend (testing.go): where the
// teacher mocked one Backend so a ublk queue runner could be driven in
// unit tests, there is no single device to mock at this layer — a
// network stack is only interesting with a peer on the other end, so
// this builds both sides of one.
func NewTestPair(ipA, ipB [4]byte, macA, macB [6]byte, subnet *net.IPNet) (a, b *LibOS, err error) {
	devA, devB := device.NewLoopbackPair(macA, macB)

	a, err = New(DefaultConfig(ipA, macA, subnet), devA)
	if err != nil {
		return nil, nil, err
	}
	b, err = New(DefaultConfig(ipB, macB, subnet), devB)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// SetLossRate configures l's underlying device to drop roughly rate of
// its transmitted frames (spec.md §8's lossy bulk-transfer scenario).
// A no-op if l was not built over a loopback device.
func (l *LibOS) SetLossRate(rate float64) {
	if lb, ok := l.dev.(*device.LoopbackDevice); ok {
		lb.SetLossRate(rate)
	}
}

// Pump drives both a and b's poll loops rounds times apiece, for tests
// that need two independent LibOS instances to make joint progress —
// the facade-level analogue of the node/newNode/pump harness repeated
// across internal/*_test.go, needed here because two LibOS instances
// share no scheduler to single-step together.
func Pump(a, b *LibOS, rounds int) {
	for i := 0; i < rounds; i++ {
		a.poll()
		b.poll()
	}
}
