package ipv4

import (
	"errors"

	"github.com/catnipstack/catnip/internal/arp"
	"github.com/catnipstack/catnip/internal/buf"
	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/interfaces"
	"github.com/catnipstack/catnip/internal/runtime"
)

// ErrUnreachable mirrors arp.ErrUnreachable at this layer, returned by
// a SendTask when ARP resolution for the next hop is exhausted.
var ErrUnreachable = errors.New("ipv4: destination unreachable")

// UpperLayer receives fully-validated IPv4 payloads for one protocol
// number. Datagram aliases a device-owned Buffer's bytes for the
// duration of the call only; implementations that need to keep the
// data must copy it out.
type UpperLayer interface {
	HandleDatagram(hdr headers.IPv4, payload []byte)
}

// UnreachableObserver is notified when an inbound ICMP destination
// unreachable message quotes one of our own outbound datagrams
// (spec.md §4.6, the bound Open Question: "an ICMP destination
// unreachable against an established flow aborts it with Unreachable").
type UnreachableObserver interface {
	NotifyUnreachable(protocol uint8, srcIP, dstIP [4]byte, srcPort, dstPort uint16)
}

// Stack is one LibOS instance's IPv4 layer: routing, identification
// counter, protocol dispatch, and the built-in ICMP echo responder.
type Stack struct {
	device   interfaces.Device
	resolver *arp.Resolver
	sched    *runtime.Scheduler
	observer interfaces.Observer
	routes   *Table

	localIP  [4]byte
	localMAC [6]byte

	handlers    map[uint8]UpperLayer
	unreachable UnreachableObserver

	nextIdent uint16
}

func NewStack(device interfaces.Device, resolver *arp.Resolver, sched *runtime.Scheduler, observer interfaces.Observer, routes *Table, localIP [4]byte, localMAC [6]byte) *Stack {
	return &Stack{
		device: device, resolver: resolver, sched: sched, observer: observer, routes: routes,
		localIP: localIP, localMAC: localMAC,
		handlers: make(map[uint8]UpperLayer),
	}
}

// RegisterHandler wires the UDP or TCP layer to receive datagrams for
// its IP protocol number.
func (s *Stack) RegisterHandler(protocol uint8, h UpperLayer) {
	s.handlers[protocol] = h
}

// SetUnreachableObserver wires the component (normally the TCP flow
// arena) that aborts flows on ICMP destination-unreachable.
func (s *Stack) SetUnreachableObserver(o UnreachableObserver) {
	s.unreachable = o
}

// HandleEthernetPayload processes one inbound frame's payload, already
// stripped of its Ethernet header, dispatching ARP to the resolver and
// IPv4 datagrams to protocol handlers. frame retains ownership of the
// backing buffer for reuse per spec.md §3, so payload must not be
// retained past this call.
func (s *Stack) HandleEthernetPayload(etherType uint16, payload []byte) {
	switch etherType {
	case headers.EtherTypeARP:
		a, _, err := headers.ParseARP(payload)
		if err != nil {
			return
		}
		s.resolver.HandleReply(a)
	case headers.EtherTypeIPv4:
		s.handleDatagram(payload)
	}
}

func (s *Stack) handleDatagram(payload []byte) {
	hdr, body, err := headers.ParseIPv4(payload)
	if err != nil {
		if s.observer != nil {
			s.observer.ObserveSegmentDropped("ipv4_checksum")
		}
		return
	}
	if hdr.IsFragment() {
		// Fragment reassembly is a Non-goal (spec.md §4.5); drop rather
		// than deliver a partial datagram.
		if s.observer != nil {
			s.observer.ObserveSegmentDropped("ipv4_fragment")
		}
		return
	}
	if hdr.DstIP != s.localIP {
		return
	}

	if hdr.Protocol == headers.ProtoICMP {
		s.handleICMP(hdr, body)
		return
	}
	if h, ok := s.handlers[hdr.Protocol]; ok {
		h.HandleDatagram(hdr, body)
	}
}

// Send starts transmitting payload to dstIP over protocol. The
// returned SendTask must be spawned on the scheduler by the caller
// (mirroring the retry-task pattern in internal/arp): resolving the
// next hop's MAC is asynchronous, so transmission may suspend.
func (s *Stack) Send(dstIP [4]byte, protocol uint8, payload []byte) *SendTask {
	return &SendTask{stack: s, dstIP: dstIP, protocol: protocol, payload: payload}
}

// SendTask drives one outbound datagram through route lookup, ARP
// resolution, and framing.
type SendTask struct {
	stack    *Stack
	dstIP    [4]byte
	protocol uint8
	payload  []byte

	id      runtime.TaskID
	req     *arp.Request
	done    bool
	err     error
}

// Bind must be called with the TaskID returned by spawning this task,
// before the scheduler's first Poll (same pattern the arp package's
// retryTask uses internally).
func (t *SendTask) Bind(id runtime.TaskID) { t.id = id }

func (t *SendTask) Poll() runtime.PollResult {
	s := t.stack
	if t.req == nil {
		nextHop, err := s.routes.NextHop(t.dstIP)
		if err != nil {
			t.err = err
			t.done = true
			return runtime.Complete
		}
		t.req = s.resolver.Resolve(nextHop, s.sched.NewWaker(t.id))
	}

	mac, err, ready := t.req.Result()
	if !ready {
		return runtime.Pending
	}
	if err != nil {
		t.err = ErrUnreachable
		t.done = true
		return runtime.Complete
	}

	s.transmit(mac, t.dstIP, t.protocol, t.payload)
	t.done = true
	return runtime.Complete
}

// Result reports the outcome once the task has completed.
func (t *SendTask) Result() error { return t.err }

// Done reports whether the task has finished (successfully or not),
// for callers polling it outside the scheduler's own Task interface.
func (t *SendTask) Done() bool { return t.done }

func (s *Stack) transmit(dstMAC [6]byte, dstIP [4]byte, protocol uint8, payload []byte) {
	frame := s.device.Pool().Alloc(buf.SizeStandard)
	headerLen := headers.EthernetHeaderLen + headers.IPv4HeaderLen
	if err := frame.GrowTail(headerLen + len(payload)); err != nil {
		frame.Drop()
		if s.observer != nil {
			s.observer.ObserveSegmentDropped("oversized_payload")
		}
		return
	}
	b := frame.Bytes()

	eth := headers.Ethernet{Dst: dstMAC, Src: s.localMAC, EtherType: headers.EtherTypeIPv4}
	n, _ := headers.SerializeEthernet(b, eth)

	s.nextIdent++
	ip := headers.IPv4{
		TTL: constants.DefaultIPTTL, Protocol: protocol,
		Identification: s.nextIdent, SrcIP: s.localIP, DstIP: dstIP,
	}
	n2, _ := headers.SerializeIPv4(b[n:], ip, len(payload))
	copy(b[n+n2:], payload)

	s.device.Transmit(frame)
}

func (s *Stack) handleICMP(hdr headers.IPv4, body []byte) {
	icmp, payload, err := headers.ParseICMP(body)
	if err != nil {
		return
	}
	switch icmp.Type {
	case headers.ICMPTypeEchoRequest:
		s.sendEchoReply(hdr.SrcIP, icmp, payload)
	case headers.ICMPTypeDestUnreachable:
		// ParseICMP already consumed the 4 unused bytes; hand over the
		// message from those bytes on, which handleDestUnreachable skips.
		s.handleDestUnreachable(body[headers.ICMPHeaderLen-4:])
	}
}

func (s *Stack) sendEchoReply(dstIP [4]byte, req headers.ICMP, payload []byte) {
	reply := headers.ICMP{Type: headers.ICMPTypeEchoReply, Identifier: req.Identifier, Sequence: req.Sequence}
	out := make([]byte, headers.ICMPHeaderLen+len(payload))
	headers.SerializeICMP(out, reply, payload)

	task := s.Send(dstIP, headers.ProtoICMP, out)
	id, _ := s.sched.Spawn(task)
	task.Bind(id)
}

// handleDestUnreachable parses the quoted IPv4+L4 header carried in the
// ICMP payload (skipping the 4 reserved bytes) and notifies the
// unreachable observer so the matching flow can abort.
func (s *Stack) handleDestUnreachable(icmpPayload []byte) {
	if s.unreachable == nil || len(icmpPayload) < 4 {
		return
	}
	quoted := icmpPayload[4:]
	protocol, srcIP, dstIP, srcPort, dstPort, ok := parseQuotedHeader(quoted)
	if !ok {
		return
	}
	s.unreachable.NotifyUnreachable(protocol, srcIP, dstIP, srcPort, dstPort)
}
