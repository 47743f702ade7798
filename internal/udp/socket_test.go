package udp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catnipstack/catnip/internal/arp"
	"github.com/catnipstack/catnip/internal/buf"
	"github.com/catnipstack/catnip/internal/device"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/ipv4"
	"github.com/catnipstack/catnip/internal/runtime"
)

var (
	macA = [6]byte{0x02, 0, 0, 0, 0, 0xA}
	macB = [6]byte{0x02, 0, 0, 0, 0, 0xB}
	ipA  = [4]byte{192, 0, 2, 1}
	ipB  = [4]byte{192, 0, 2, 2}
)

type node struct {
	dev   *device.LoopbackDevice
	sched *runtime.Scheduler
	stack *ipv4.Stack
	table *Table
}

func newNode(t *testing.T, dev *device.LoopbackDevice, mac [6]byte, ip [4]byte) *node {
	t.Helper()
	sched := runtime.New()
	resolver := arp.New(arp.DefaultConfig(), dev, sched, nil, ip, mac)
	routes := ipv4.NewTable()
	_, subnet, err := net.ParseCIDR("192.0.2.0/24")
	require.NoError(t, err)
	routes.AddRoute(subnet, [4]byte{})
	stack := ipv4.NewStack(dev, resolver, sched, nil, routes, ip, mac)
	return &node{dev: dev, sched: sched, stack: stack, table: NewTable(stack, ip)}
}

func deliverFrames(dev *device.LoopbackDevice, stack *ipv4.Stack) {
	burst := make([]*buf.Buffer, 8)
	n, _ := dev.Receive(burst)
	for i := 0; i < n; i++ {
		frame := burst[i]
		eth, rest, err := headers.ParseEthernet(frame.Bytes())
		if err == nil {
			stack.HandleEthernetPayload(eth.EtherType, rest)
		}
		frame.Drop()
	}
}

func TestBindThenSendDeliversDatagram(t *testing.T) {
	devA, devB := device.NewLoopbackPair(macA, macB)
	nodeA := newNode(t, devA, macA, ipA)
	nodeB := newNode(t, devB, macB, ipB)

	sockB, err := nodeB.table.Bind(7000)
	require.NoError(t, err)

	sockA, err := nodeA.table.Bind(0)
	require.NoError(t, err)
	require.True(t, sockA.LocalPort() >= 49152)

	task := sockA.Send(ipB, 7000, []byte("hi"))
	id, _ := nodeA.sched.Spawn(task)
	task.Bind(id)

	var dgram Datagram
	var got bool
	for i := 0; i < 10 && !got; i++ {
		nodeA.sched.RunReady()
		deliverFrames(devA, nodeB.stack)
		deliverFrames(devB, nodeA.stack)
		nodeB.sched.RunReady()
		dgram, got = sockB.TryPop()
	}

	require.True(t, got)
	require.Equal(t, []byte("hi"), dgram.Payload)
	require.Equal(t, ipA, dgram.SrcIP)
	require.Equal(t, sockA.LocalPort(), dgram.SrcPort)
}

func TestBindDuplicatePortFails(t *testing.T) {
	dev, _ := device.NewLoopbackPair(macA, macB)
	n := newNode(t, dev, macA, ipA)

	_, err := n.table.Bind(9000)
	require.NoError(t, err)

	_, err = n.table.Bind(9000)
	require.ErrorIs(t, err, ErrAddressInUse)
}

func TestCloseFreesPortForRebind(t *testing.T) {
	dev, _ := device.NewLoopbackPair(macA, macB)
	n := newNode(t, dev, macA, ipA)

	s, err := n.table.Bind(9001)
	require.NoError(t, err)
	s.Close()

	_, err = n.table.Bind(9001)
	require.NoError(t, err)
}

func TestConnectedSocketFiltersUnexpectedSender(t *testing.T) {
	dev, _ := device.NewLoopbackPair(macA, macB)
	n := newNode(t, dev, macA, ipA)

	s, err := n.table.Bind(9002)
	require.NoError(t, err)
	s.Connect([4]byte{198, 51, 100, 5}, 4242)

	s.deliver(Datagram{Payload: []byte("nope"), SrcIP: ipB, SrcPort: 1234})
	_, got := s.TryPop()
	require.False(t, got, "datagram from an unconnected peer must be dropped")

	s.deliver(Datagram{Payload: []byte("yes"), SrcIP: [4]byte{198, 51, 100, 5}, SrcPort: 4242})
	d, got := s.TryPop()
	require.True(t, got)
	require.Equal(t, []byte("yes"), d.Payload)
}
