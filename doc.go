// Package catnip implements Catnip, a userspace TCP/IP network stack
// in the Demikernel LibOS style: kernel-bypass packet I/O, a
// qtoken-based asynchronous API (socket, bind, listen, accept,
// connect, push, pop, close, wait, wait_any), and a single-threaded
// cooperative scheduler driving ARP resolution, IPv4 routing, and
// per-flow TCP state machines.
//
// New builds one LibOS instance over a caller-supplied device — a raw
// AF_PACKET socket in production (internal/device.NewRawSocketDevice),
// or a loopback pair in tests (NewTestPair). Run drives its poll loop
// until the context passed in is cancelled. Every queue operation
// returns a QToken, resolved later with Wait or WaitAny; TryWait polls
// one without blocking.
//
// There is no global state: every tunable lives on a Config passed to
// New, and nothing survives past a LibOS's Close.
package catnip
