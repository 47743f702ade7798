package tcp

import (
	"errors"

	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/interfaces"
	"github.com/catnipstack/catnip/internal/ipv4"
	"github.com/catnipstack/catnip/internal/runtime"
)

// ErrNoPortsAvailable is returned when Connect can't find a free
// ephemeral local port.
var ErrNoPortsAvailable = errors.New("tcp: no ephemeral ports available")

// Arena is one LibOS instance's TCP flow table, keyed by four-tuple
// (spec.md §9's "arena of flows keyed by flow-id" design note — the
// flow-id itself, generated per Flow via github.com/rs/xid, is the
// arena's internal handle; the four-tuple is the lookup key every
// inbound segment dispatches on). Grounded on the teacher's
// queue.Runner, whose TagState map plays the same "one entry per
// in-flight unit of work" role this plays for TCP flows.
type Arena struct {
	stack    *ipv4.Stack
	sched    *runtime.Scheduler
	observer interfaces.Observer
	localIP  [4]byte

	flows         map[FourTuple]*Flow
	listeners     map[uint16]*Listener
	nextEphemeral uint16
}

func NewArena(stack *ipv4.Stack, sched *runtime.Scheduler, observer interfaces.Observer, localIP [4]byte) *Arena {
	a := &Arena{
		stack: stack, sched: sched, observer: observer, localIP: localIP,
		flows:         make(map[FourTuple]*Flow),
		listeners:     make(map[uint16]*Listener),
		nextEphemeral: constants.DefaultEphemeralPortLow,
	}
	stack.RegisterHandler(headers.ProtoTCP, a)
	stack.SetUnreachableObserver(a)
	return a
}

func (a *Arena) register(f *Flow) { a.flows[f.tuple] = f }
func (a *Arena) remove(tuple FourTuple) { delete(a.flows, tuple) }

// Connect starts an active open from an ephemeral local port to
// remoteIP:remotePort, returning the new Flow and its ConnectRequest
// ticket (ready once the handshake completes, fails, or times out).
func (a *Arena) Connect(remoteIP [4]byte, remotePort uint16) (*Flow, *ConnectRequest, error) {
	port, err := a.allocEphemeral()
	if err != nil {
		return nil, nil, err
	}
	tuple := FourTuple{LocalIP: a.localIP, LocalPort: port, RemoteIP: remoteIP, RemotePort: remotePort}
	f, req := connect(a, tuple)
	a.register(f)
	id, _ := a.sched.Spawn(f)
	f.Bind(id)
	return f, req, nil
}

// Listen binds a passive-open endpoint on localPort with the given
// accept-queue/half-open backlog.
func (a *Arena) Listen(localPort uint16, backlog int) (*Listener, error) {
	if _, exists := a.listeners[localPort]; exists {
		return nil, ErrAddressInUse
	}
	l := &Listener{arena: a, localPort: localPort, backlog: backlog, pending: make(map[FourTuple]*Flow)}
	a.listeners[localPort] = l
	return l, nil
}

func (a *Arena) allocEphemeral() (uint16, error) {
	low, high := uint16(constants.DefaultEphemeralPortLow), uint16(constants.DefaultEphemeralPortHigh)
	span := int(high-low) + 1
	for i := 0; i < span; i++ {
		port := a.nextEphemeral
		if a.nextEphemeral == high {
			a.nextEphemeral = low
		} else {
			a.nextEphemeral++
		}
		inUse := false
		for t := range a.flows {
			if t.LocalPort == port {
				inUse = true
				break
			}
		}
		if !inUse {
			return port, nil
		}
	}
	return 0, ErrNoPortsAvailable
}

// HandleDatagram implements ipv4.UpperLayer: dispatches an inbound TCP
// segment to its matching flow, or to a listener if it's a fresh SYN,
// or refuses it with RST.
func (a *Arena) HandleDatagram(hdr headers.IPv4, payload []byte) {
	tcpHdr, body, err := headers.ParseTCP(payload, hdr.SrcIP, hdr.DstIP, len(payload))
	if err != nil {
		if a.observer != nil {
			a.observer.ObserveSegmentDropped("tcp_checksum")
		}
		return
	}
	tuple := FourTuple{LocalIP: hdr.DstIP, LocalPort: tcpHdr.DstPort, RemoteIP: hdr.SrcIP, RemotePort: tcpHdr.SrcPort}

	if f, ok := a.flows[tuple]; ok {
		f.HandleSegment(tcpHdr, body)
		return
	}
	if tcpHdr.Has(headers.FlagSYN) && !tcpHdr.Has(headers.FlagACK) {
		if l, ok := a.listeners[tuple.LocalPort]; ok {
			l.handleSYN(tuple, tcpHdr)
			return
		}
	}
	if !tcpHdr.Has(headers.FlagRST) {
		a.sendRST(tuple, tcpHdr, len(body))
	}
}

// sendRST replies to an unmatched segment with a RST, refusing the
// connection attempt (spec.md §4.7: a SYN with no matching listener is
// answered with RST so the peer's connect fails with ConnectionRefused).
func (a *Arena) sendRST(tuple FourTuple, hdr headers.TCP, payloadLen int) {
	var rst headers.TCP
	rst.SrcPort, rst.DstPort = tuple.LocalPort, tuple.RemotePort
	if hdr.Has(headers.FlagACK) {
		rst.SeqNum = hdr.AckNum
		rst.Flags = headers.FlagRST
	} else {
		segLen := uint32(payloadLen)
		if hdr.Has(headers.FlagSYN) {
			segLen++
		}
		if hdr.Has(headers.FlagFIN) {
			segLen++
		}
		rst.AckNum = hdr.SeqNum + segLen
		rst.Flags = headers.FlagRST | headers.FlagACK
	}
	buf := make([]byte, rst.HeaderLen())
	headers.SerializeTCP(buf, rst, nil, tuple.LocalIP, tuple.RemoteIP)
	task := a.stack.Send(tuple.RemoteIP, headers.ProtoTCP, buf)
	id, _ := a.sched.Spawn(task)
	task.Bind(id)
}

// NotifyUnreachable implements ipv4.UnreachableObserver.
func (a *Arena) NotifyUnreachable(protocol uint8, srcIP, dstIP [4]byte, srcPort, dstPort uint16) {
	if protocol != headers.ProtoTCP {
		return
	}
	tuple := FourTuple{LocalIP: srcIP, LocalPort: srcPort, RemoteIP: dstIP, RemotePort: dstPort}
	if f, ok := a.flows[tuple]; ok {
		f.abortUnreachable()
	}
}
