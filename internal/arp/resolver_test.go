package arp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catnipstack/catnip/internal/buf"
	"github.com/catnipstack/catnip/internal/device"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/runtime"
)

var (
	localMAC  = [6]byte{0x02, 0, 0, 0, 0, 1}
	localIP   = [4]byte{192, 0, 2, 1}
	remoteMAC = [6]byte{0x02, 0, 0, 0, 0, 2}
	remoteIP  = [4]byte{192, 0, 2, 2}
)

func newTestResolver(cfg Config) (*Resolver, *device.LoopbackDevice, *runtime.Scheduler) {
	dev := device.NewLoopbackDevice(localMAC)
	sched := runtime.New()
	r := New(cfg, dev, sched, nil, localIP, localMAC)
	return r, dev, sched
}

func TestResolveReturnsImmediatelyWhenCached(t *testing.T) {
	r, _, sched := newTestResolver(DefaultConfig())
	_, seedWaker := sched.Spawn(&noopTask{})
	r.Resolve(remoteIP, seedWaker) // creates the in-flight cache entry
	r.HandleReply(headers.ARP{Opcode: headers.ARPOpReply, SenderMAC: remoteMAC, SenderIP: remoteIP})

	_, waker := sched.Spawn(&noopTask{})
	req := r.Resolve(remoteIP, waker)
	mac, err, ready := req.Result()
	require.True(t, ready)
	require.NoError(t, err)
	require.Equal(t, remoteMAC, mac)
}

func TestResolvePendingUntilReplyArrives(t *testing.T) {
	r, _, sched := newTestResolver(DefaultConfig())
	_, waker := sched.Spawn(&noopTask{})

	req := r.Resolve(remoteIP, waker)
	_, _, ready := req.Result()
	require.False(t, ready)

	r.HandleReply(headers.ARP{Opcode: headers.ARPOpReply, SenderMAC: remoteMAC, SenderIP: remoteIP})
	mac, err, ready := req.Result()
	require.True(t, ready)
	require.NoError(t, err)
	require.Equal(t, remoteMAC, mac)
}

func TestResolveAttachesSecondWaiterToInFlightEntry(t *testing.T) {
	r, _, sched := newTestResolver(DefaultConfig())
	_, wakerA := sched.Spawn(&noopTask{})
	_, wakerB := sched.Spawn(&noopTask{})

	reqA := r.Resolve(remoteIP, wakerA)
	reqB := r.Resolve(remoteIP, wakerB)

	r.HandleReply(headers.ARP{Opcode: headers.ARPOpReply, SenderMAC: remoteMAC, SenderIP: remoteIP})

	_, _, readyA := reqA.Result()
	_, _, readyB := reqB.Result()
	require.True(t, readyA)
	require.True(t, readyB)
}

func TestResolveExhaustsRetryBudgetAsUnreachable(t *testing.T) {
	cfg := Config{Retries: 2, RequestInterval: time.Millisecond, CacheTTL: time.Minute}
	r, _, sched := newTestResolver(cfg)
	_, waker := sched.Spawn(&noopTask{})

	req := r.Resolve(remoteIP, waker)

	deadline := time.Now()
	for i := 0; i < cfg.Retries+1; i++ {
		deadline = deadline.Add(cfg.RequestInterval + time.Millisecond)
		sched.ServiceTimers(deadline)
		sched.RunReady()
	}

	_, err, ready := req.Result()
	require.True(t, ready)
	require.ErrorIs(t, err, ErrUnreachable)
	require.Equal(t, 1, sched.NumTasks(), "only the noop waiter task remains, retry task retired")
}

func TestGratuitousReplyIgnoredByDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcceptGratuitousNew = false
	r, _, _ := newTestResolver(cfg)

	// No prior Resolve call means no cache entry exists yet; an
	// unsolicited reply must not create one under the default config.
	r.HandleReply(headers.ARP{Opcode: headers.ARPOpReply, SenderMAC: remoteMAC, SenderIP: remoteIP})
	_, ok := r.Lookup(remoteIP)
	require.False(t, ok, "unsolicited reply must not be cached unless AcceptGratuitousNew is set")
}

func TestGratuitousReplyAcceptedWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcceptGratuitousNew = true
	r, _, _ := newTestResolver(cfg)

	r.HandleReply(headers.ARP{Opcode: headers.ARPOpReply, SenderMAC: remoteMAC, SenderIP: remoteIP})
	mac, ok := r.Lookup(remoteIP)
	require.True(t, ok)
	require.Equal(t, remoteMAC, mac)
}

func TestEvictExpiredRemovesStaleEntries(t *testing.T) {
	cfg := Config{Retries: 5, RequestInterval: time.Second, CacheTTL: time.Millisecond}
	r, _, sched := newTestResolver(cfg)
	_, waker := sched.Spawn(&noopTask{})
	r.Resolve(remoteIP, waker) // creates the in-flight cache entry
	r.HandleReply(headers.ARP{Opcode: headers.ARPOpReply, SenderMAC: remoteMAC, SenderIP: remoteIP})

	_, ok := r.Lookup(remoteIP)
	require.True(t, ok)

	r.EvictExpired(time.Now().Add(time.Hour))
	_, ok = r.Lookup(remoteIP)
	require.False(t, ok)
}

func TestAnnounceGratuitousBroadcastsSenderEqualsTargetRequest(t *testing.T) {
	a, b := device.NewLoopbackPair(localMAC, remoteMAC)
	sched := runtime.New()
	r := New(DefaultConfig(), a, sched, nil, localIP, localMAC)

	r.AnnounceGratuitous()

	burst := make([]*buf.Buffer, 1)
	n, err := b.Receive(burst)
	require.NoError(t, err)
	require.Equal(t, 1, n, "AnnounceGratuitous must put a frame on the wire")

	eth, rest, err := headers.ParseEthernet(burst[0].Bytes())
	require.NoError(t, err)
	require.Equal(t, headers.Broadcast, eth.Dst)
	require.Equal(t, headers.EtherTypeARP, eth.EtherType)

	a2, _, err := headers.ParseARP(rest)
	require.NoError(t, err)
	require.Equal(t, headers.ARPOpRequest, a2.Opcode)
	require.Equal(t, localIP, a2.SenderIP)
	require.Equal(t, localIP, a2.TargetIP, "gratuitous announcement asks about its own address")
	require.Equal(t, localMAC, a2.SenderMAC)
}

type noopTask struct{}

func (n *noopTask) Poll() runtime.PollResult { return runtime.Pending }
