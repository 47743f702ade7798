// Package constants holds the default tunables for the catnip core,
// mirrored from spec.md §6 so every package agrees on one set of
// numbers instead of scattering magic values.
package constants

import "time"

// Ethernet / MTU.
const (
	DefaultMTU = 1500
	DefaultMSS = 1460

	EthernetHeaderLen = 14
	IPv4HeaderLen     = 20
	UDPHeaderLen      = 8
	TCPHeaderLenMin   = 20
)

// ARP resolver defaults (spec.md §4.4).
const (
	DefaultARPRequestRetries  = 5
	DefaultARPRequestInterval = 1 * time.Second
	DefaultARPCacheTTL        = 15 * time.Minute
)

// TCP defaults (spec.md §4.7, §6).
const (
	DefaultTCPRTOMin       = 200 * time.Millisecond
	DefaultTCPRTOMax       = 60 * time.Second
	DefaultTCPSynRetries   = 5
	DefaultTCPWindowScale  = 0
	DefaultTCPTimestamps   = false
	DefaultReassemblyBytes = 256 * 1024

	DefaultDelayedACKTimeout = 200 * time.Millisecond
	DefaultMSL               = 30 * time.Second // 2*MSL = 60s TimeWait, scaled down from RFC's 2min for test tractability
	DefaultPersistTimeout     = 5 * time.Second
	DefaultPersistTimeoutMax  = 60 * time.Second
	DefaultKeepaliveInterval  = 2 * time.Hour

	InitialCwndSegments = 2
	DupACKThreshold     = 3
)

// UDP defaults.
const (
	DefaultEphemeralPortLow  = 49152
	DefaultEphemeralPortHigh = 65535
)

// Runtime / scheduler.
const (
	// PollTickInterval bounds how long the poll loop blocks on the device
	// when there is no other work; timers and wakers still fire promptly
	// because the loop always re-checks the timer wheel after each burst.
	PollTickInterval = 1 * time.Millisecond

	DefaultBurstSize = 32
)

// DefaultIPTTL is the IPv4 TTL used on transmit (spec.md §4.5).
const DefaultIPTTL = 64
