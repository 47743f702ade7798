package tcp

import "errors"

var (
	// ErrConnectionRefused is surfaced when a SYN is answered with RST
	// (spec.md §4.7: no listener on the target port).
	ErrConnectionRefused = errors.New("tcp: connection refused")
	// ErrConnectionReset is surfaced when an established flow receives
	// an unexpected RST.
	ErrConnectionReset = errors.New("tcp: connection reset by peer")
	// ErrTimeout is surfaced when the SYN retry budget is exhausted
	// without a response.
	ErrTimeout = errors.New("tcp: connection attempt timed out")
	// ErrClosed is returned by Recv/Send once the flow has fully closed.
	ErrClosed = errors.New("tcp: flow closed")
	// ErrBadState is returned for operations invalid in the flow's
	// current state (e.g. Send after the local side has sent FIN).
	ErrBadState = errors.New("tcp: operation invalid in current state")
	// ErrAddressInUse is returned by Listen when the port is already
	// bound by another listener.
	ErrAddressInUse = errors.New("tcp: address already in use")
	// ErrBacklogFull is returned when a SYN arrives for a listener
	// whose accept backlog is already full (spec.md §8: SYN flood
	// backlog cap).
	ErrBacklogFull = errors.New("tcp: accept backlog full")
	// ErrUnreachable aborts a flow in response to an ICMP destination
	// unreachable message quoting one of its segments.
	ErrUnreachable = errors.New("tcp: destination unreachable")
)
