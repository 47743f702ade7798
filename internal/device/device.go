// Package device implements the packet I/O abstraction of spec.md
// §4.2 (C2): a burst-oriented Ethernet device with RX/TX rings of
// pooled buffers. Grounded on the teacher's internal/queue.Runner
// ioLoop/stubLoop split and internal/uring's interface+constructor
// pattern, generalized from block I/O to packet burst I/O.
package device

import "github.com/catnipstack/catnip/internal/buf"

// Config mirrors the NIC-facing subset of spec.md §6's configuration:
// the local MAC is a property of the device, not a tunable (spec.md
// §4.2), but a caller-supplied one is needed for the loopback/raw
// implementations since there's no driver to query it from.
type Config struct {
	MAC       [6]byte
	BurstSize int
}

// DefaultConfig returns sane defaults; BurstSize matches
// constants.DefaultBurstSize but is duplicated here as a literal to
// avoid an import cycle concern for configuration-only consumers.
func DefaultConfig(mac [6]byte) Config {
	return Config{MAC: mac, BurstSize: 32}
}

// Stats tracks device-level counters, surfaced through the facade's
// metrics collector.
type Stats struct {
	RXFrames uint64
	TXFrames uint64
	TXDropped uint64
}

// pool is the shared interface both device implementations expose via
// interfaces.Device.Pool(); kept as a type alias here so implementation
// files can embed it without importing interfaces (which would create
// a cycle back into buf).
type pool = buf.Pool
