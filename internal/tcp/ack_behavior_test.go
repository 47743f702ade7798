package tcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catnipstack/catnip/internal/buf"
	"github.com/catnipstack/catnip/internal/headers"
)

// captureOneSegment drains n's device and returns the first parsed TCP
// segment found, failing the test if none arrives.
func captureOneSegment(t *testing.T, n *node) (headers.TCP, []byte) {
	t.Helper()
	burst := make([]*buf.Buffer, 8)
	count, _ := n.dev.Receive(burst)
	for i := 0; i < count; i++ {
		frame := burst[i]
		eth, rest, err := headers.ParseEthernet(frame.Bytes())
		if err == nil && eth.EtherType == headers.EtherTypeIPv4 {
			ip, payload, err := headers.ParseIPv4(rest)
			if err == nil && ip.Protocol == headers.ProtoTCP {
				tcp, data, err := headers.ParseTCP(payload, ip.SrcIP, ip.DstIP, len(payload))
				if err == nil {
					frame.Drop()
					for i++; i < count; i++ {
						burst[i].Drop()
					}
					return tcp, data
				}
			}
		}
		frame.Drop()
	}
	t.Fatal("expected a TCP segment on the wire, got none")
	return headers.TCP{}, nil
}

// TestOutOfOrderSegmentTriggersImmediateDupACK drives real reordering
// through HandleSegment (not direct congestion-struct calls) and checks
// that the server ACKs immediately, carrying its unchanged rcvNxt (a
// dup-ACK), rather than waiting on the delayed-ACK timer.
func TestOutOfOrderSegmentTriggersImmediateDupACK(t *testing.T) {
	a, b, client, server := connectPair(t)
	drainFrames(a)
	drainFrames(b)

	rcvNxt := server.recv.rcvNxt
	farSeq := rcvNxt + 50
	hdr := headers.TCP{
		SrcPort: client.tuple.LocalPort, DstPort: client.tuple.RemotePort,
		SeqNum: farSeq, AckNum: client.recv.rcvNxt, Flags: headers.FlagACK,
		Window: 4096,
	}
	server.HandleSegment(hdr, []byte("out-of-order payload"))
	b.sched.RunReady()

	ack, _ := captureOneSegment(t, b)
	require.True(t, ack.Has(headers.FlagACK))
	require.False(t, ack.Has(headers.FlagSYN))
	require.Equal(t, rcvNxt, ack.AckNum, "a dup-ACK must carry the unchanged rcvNxt, not the out-of-order segment's sequence")
}

// TestTwoFullSizedSegmentsTriggerImmediateACKOnSecond exercises spec.md's
// "every second full-sized in-order segment gets an immediate ACK" rule
// end to end, through real segment delivery rather than a direct
// receiver-struct call.
func TestTwoFullSizedSegmentsTriggerImmediateACKOnSecond(t *testing.T) {
	a, b, client, server := connectPair(t)
	drainFrames(a)
	drainFrames(b)

	mss := server.recv.mss
	first := make([]byte, mss)
	for i := range first {
		first[i] = byte(i)
	}
	second := make([]byte, mss)
	for i := range second {
		second[i] = byte(0xff - i)
	}

	require.NoError(t, client.Send(first))
	pump(a, b, 4) // segment, resolve ARP (already cached), transmit, and deliver

	// After exactly one full-sized segment, only the delayed-ACK timer is
	// armed; nothing has acknowledged the client yet.
	require.True(t, server.recv.delayedACKArmed)
	require.NotEqual(t, client.send.nextSeq, client.send.unackedBase,
		"no ACK should have reached the client after just one full-sized segment")

	require.NoError(t, client.Send(second))
	pump(a, b, 4)

	require.False(t, server.recv.delayedACKArmed,
		"the second full-sized segment must ACK immediately, not leave the delayed timer armed")
	require.Equal(t, client.send.nextSeq, client.send.unackedBase,
		"the immediate ACK for the second segment must reach the client and acknowledge both segments")
}
