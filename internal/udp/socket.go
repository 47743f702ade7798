// Package udp implements the connectionless datagram socket of
// spec.md §4.6 (C7): local/remote endpoint tuple, an ingress queue per
// bound port, and ephemeral port allocation. Grounded on the teacher's
// backend.Memory sharded-map-of-endpoints idiom (internal state keyed
// by an id, guarded only by single-threaded access on the poll loop),
// applied here to a port table instead of a device-queue table.
package udp

import (
	"errors"

	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/ipv4"
	"github.com/catnipstack/catnip/internal/runtime"
)

// ErrAddressInUse is returned by Bind when the requested port is
// already owned by another socket (spec.md §4.6: "AddressInUse on
// rebind").
var ErrAddressInUse = errors.New("udp: address already in use")

// ErrNoPortsAvailable is returned when the ephemeral range is exhausted.
var ErrNoPortsAvailable = errors.New("udp: no ephemeral ports available")

// Datagram is one received UDP payload plus the sender's endpoint.
type Datagram struct {
	Payload []byte
	SrcIP   [4]byte
	SrcPort uint16
}

// Socket is one bound UDP endpoint. It has no goroutine of its own;
// TryPop is non-blocking and callers suspend cooperatively by registering
// a Waker via SetWaker and re-polling once woken.
type Socket struct {
	table     *Table
	localPort uint16

	connected   bool
	remoteIP    [4]byte
	remotePort  uint16

	rxQueue []Datagram
	waker   runtime.Waker
	closed  bool
}

// LocalPort reports the bound port (useful after an ephemeral Bind).
func (s *Socket) LocalPort() uint16 { return s.localPort }

// Connected reports whether Connect has fixed a remote endpoint.
func (s *Socket) Connected() bool { return s.connected }

// RemoteIP reports the fixed remote endpoint's address; only
// meaningful once Connected reports true.
func (s *Socket) RemoteIP() [4]byte { return s.remoteIP }

// RemotePort reports the fixed remote endpoint's port; only
// meaningful once Connected reports true.
func (s *Socket) RemotePort() uint16 { return s.remotePort }

// SetWaker registers the Waker that Pop-blocked callers wake on arrival
// of a new datagram. A nil Waker clears it.
func (s *Socket) SetWaker(w runtime.Waker) { s.waker = w }

// TryPop returns the oldest queued datagram, if any, without blocking.
func (s *Socket) TryPop() (Datagram, bool) {
	if len(s.rxQueue) == 0 {
		return Datagram{}, false
	}
	d := s.rxQueue[0]
	s.rxQueue = s.rxQueue[1:]
	return d, true
}

// Send transmits payload to dstIP:dstPort and returns the SendTask the
// caller must spawn on the scheduler (mirroring internal/ipv4.Send).
func (s *Socket) Send(dstIP [4]byte, dstPort uint16, payload []byte) *ipv4.SendTask {
	hdr := headers.UDP{SrcPort: s.localPort, DstPort: dstPort}
	out := make([]byte, headers.UDPHeaderLen+len(payload))
	headers.SerializeUDP(out, hdr, payload, s.table.localIP, dstIP)
	return s.table.stack.Send(dstIP, headers.ProtoUDP, out)
}

// Connect fixes the remote endpoint so future Sends may omit it
// (spec.md §4.8's connect operation applied to a datagram socket: it
// only filters inbound delivery and defaults outbound destination,
// since UDP has no handshake).
func (s *Socket) Connect(remoteIP [4]byte, remotePort uint16) {
	s.connected = true
	s.remoteIP = remoteIP
	s.remotePort = remotePort
}

func (s *Socket) deliver(d Datagram) {
	if s.connected && (d.SrcIP != s.remoteIP || d.SrcPort != s.remotePort) {
		return
	}
	s.rxQueue = append(s.rxQueue, d)
	s.waker.Wake()
}

// Close releases the bound port. Queued datagrams are discarded.
func (s *Socket) Close() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.table.sockets, s.localPort)
}

// Table is one LibOS instance's UDP port space: bound-socket registry
// plus ephemeral port allocation (spec.md §6: ports
// 49152-65535 by default).
type Table struct {
	stack   *ipv4.Stack
	localIP [4]byte

	sockets       map[uint16]*Socket
	nextEphemeral uint16
	ephemeralLow  uint16
	ephemeralHigh uint16
}

func NewTable(stack *ipv4.Stack, localIP [4]byte) *Table {
	t := &Table{
		stack: stack, localIP: localIP,
		sockets:       make(map[uint16]*Socket),
		nextEphemeral: constants.DefaultEphemeralPortLow,
		ephemeralLow:  constants.DefaultEphemeralPortLow,
		ephemeralHigh: constants.DefaultEphemeralPortHigh,
	}
	stack.RegisterHandler(headers.ProtoUDP, t)
	return t
}

// SetEphemeralRange overrides the default ephemeral port span (spec.md
// §6's udp_ephemeral_range), restarting allocation from low. Only
// meaningful before any ephemeral Bind has been issued.
func (t *Table) SetEphemeralRange(low, high uint16) {
	t.ephemeralLow, t.ephemeralHigh = low, high
	t.nextEphemeral = low
}

// Bind reserves port (or an ephemeral one, if port is 0) and returns a
// new Socket. Binding an already-owned port fails with ErrAddressInUse.
func (t *Table) Bind(port uint16) (*Socket, error) {
	if port == 0 {
		p, err := t.allocEphemeral()
		if err != nil {
			return nil, err
		}
		port = p
	} else if _, taken := t.sockets[port]; taken {
		return nil, ErrAddressInUse
	}

	s := &Socket{table: t, localPort: port}
	t.sockets[port] = s
	return s, nil
}

func (t *Table) allocEphemeral() (uint16, error) {
	low, high := t.ephemeralLow, t.ephemeralHigh
	span := int(high-low) + 1
	for i := 0; i < span; i++ {
		port := t.nextEphemeral
		if t.nextEphemeral == high {
			t.nextEphemeral = low
		} else {
			t.nextEphemeral++
		}
		if _, taken := t.sockets[port]; !taken {
			return port, nil
		}
	}
	return 0, ErrNoPortsAvailable
}

// HandleDatagram implements ipv4.UpperLayer, routing an inbound UDP
// segment to its bound socket by destination port.
func (t *Table) HandleDatagram(hdr headers.IPv4, payload []byte) {
	udpHdr, body, err := headers.ParseUDP(payload, hdr.SrcIP, hdr.DstIP)
	if err != nil {
		return
	}
	sock, ok := t.sockets[udpHdr.DstPort]
	if !ok {
		return // no listener; port-unreachable ICMP generation is a Non-goal
	}
	sock.deliver(Datagram{
		Payload: append([]byte(nil), body...),
		SrcIP:   hdr.SrcIP,
		SrcPort: udpHdr.SrcPort,
	})
}
