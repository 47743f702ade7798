package catnip

import (
	"context"
	"time"

	"github.com/catnipstack/catnip/internal/arp"
	"github.com/catnipstack/catnip/internal/buf"
	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/interfaces"
	"github.com/catnipstack/catnip/internal/ioqueue"
	"github.com/catnipstack/catnip/internal/ipv4"
	"github.com/catnipstack/catnip/internal/metrics"
	"github.com/catnipstack/catnip/internal/runtime"
	"github.com/catnipstack/catnip/internal/tcp"
	"github.com/catnipstack/catnip/internal/udp"
)

// LibOS is one running instance of the Catnip userspace network stack:
// one device, one scheduler, and the ARP/IPv4/UDP/TCP/qtoken layers
// wired on top of it. Grounded on the teacher's backend.go facade —
// where CreateAndServe assembled one ublk block device's queue runners
// around a Backend, New assembles one LibOS's protocol stack around an
// interfaces.Device.
type LibOS struct {
	cfg   Config
	dev   interfaces.Device
	sched *runtime.Scheduler

	resolver *arp.Resolver
	routes   *ipv4.Table
	ipstack  *ipv4.Stack
	udp      *udp.Table
	tcp      *tcp.Arena
	queues   *ioqueue.Table

	metrics *metrics.Collector

	closed bool
}

// New builds a LibOS over dev, wiring every layer per cfg. dev is
// normally a *device.RawSocketDevice in production, or a
// *device.LoopbackDevice under test (see testing.go) — New itself
// makes no choice between them, per spec.md §9's "no global state"
// design note: the caller owns the device's lifetime and decides what
// backs it.
func New(cfg Config, dev interfaces.Device) (*LibOS, error) {
	if cfg.Subnet == nil {
		return nil, NewError("new", CodeBadArg, "config: Subnet is required")
	}

	sched := runtime.New()
	mc := metrics.NewCollector("catnip")

	arpCfg := arp.Config{
		Retries:         cfg.ARPRequestRetries,
		RequestInterval: cfg.ARPRequestInterval,
		CacheTTL:        cfg.ARPCacheTTL,
	}
	resolver := arp.New(arpCfg, dev, sched, mc, cfg.LocalIPv4, cfg.LocalMAC)
	for _, e := range cfg.ARPTable {
		resolver.Seed(e.IP, e.MAC, cfg.ARPCacheTTL)
	}
	if cfg.GratuitousARPOnStart {
		resolver.AnnounceGratuitous()
	}

	routes := ipv4.NewTable()
	routes.AddRoute(cfg.Subnet, [4]byte{})
	if cfg.HasGateway {
		routes.SetDefaultGateway(cfg.GatewayIPv4)
	}

	ipstack := ipv4.NewStack(dev, resolver, sched, mc, routes, cfg.LocalIPv4, cfg.LocalMAC)

	udpTable := udp.NewTable(ipstack, cfg.LocalIPv4)
	udpTable.SetEphemeralRange(cfg.UDPEphemeralRange.Low, cfg.UDPEphemeralRange.High)

	tcpArena := tcp.NewArena(ipstack, sched, mc, cfg.LocalIPv4)

	queues := ioqueue.NewTable(sched, udpTable, tcpArena)

	l := &LibOS{
		cfg: cfg, dev: dev, sched: sched,
		resolver: resolver, routes: routes, ipstack: ipstack,
		udp: udpTable, tcp: tcpArena, queues: queues,
		metrics: mc,
	}
	queues.SetTick(l.poll)
	return l, nil
}

// poll drives one iteration of the cooperative loop: service timers,
// evict expired ARP entries, drain the device's inbound burst into the
// IPv4 stack, then run every ready task — spec.md §4.1's "service
// timers, poll device, run tasks" ordering, the same sequence the
// node/newNode/pump test harnesses across internal/* hand-roll one
// layer down.
func (l *LibOS) poll() {
	now := time.Now()
	l.sched.ServiceTimers(now)
	l.resolver.EvictExpired(now)

	burst := make([]*buf.Buffer, constants.DefaultBurstSize)
	n, _ := l.dev.Receive(burst)
	for i := 0; i < n; i++ {
		frame := burst[i]
		eth, rest, err := headers.ParseEthernet(frame.Bytes())
		if err == nil {
			l.ipstack.HandleEthernetPayload(eth.EtherType, rest)
		}
		frame.Drop()
	}

	l.sched.RunReady()
}

// Run drives the poll loop until ctx is cancelled. Between bursts it
// sleeps up to constants.PollTickInterval, or until the scheduler's
// next armed timer, whichever is sooner — the closest idiomatic
// substitute for the teacher's io_uring completion-queue wait, since a
// packet device has no blocking primitive of its own at this layer.
func (l *LibOS) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		l.poll()

		sleep := constants.PollTickInterval
		if deadline, ok := l.sched.NextDeadline(); ok {
			if d := time.Until(deadline); d >= 0 && d < sleep {
				sleep = d
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Close releases the underlying device. Queue descriptors and flows
// are not individually torn down; per spec.md §9, a LibOS going away
// takes everything bound to it with it.
func (l *LibOS) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.dev.Close()
}
