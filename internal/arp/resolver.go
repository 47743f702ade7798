// Package arp implements the IPv4→MAC resolver of spec.md §4.4 (C5):
// a cache of Resolving/Valid entries with request/reply state, retry
// budget, and TTL expiry. Grounded on the teacher's internal/ctrl
// request/response/retry shape (a pending control command with
// attempts and a completion waiter), adapted here to per-IP resolution
// requests with multiple waiters per entry.
package arp

import (
	"errors"
	"time"

	"github.com/catnipstack/catnip/internal/buf"
	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/headers"
	"github.com/catnipstack/catnip/internal/interfaces"
	"github.com/catnipstack/catnip/internal/runtime"
)

// ErrUnreachable is returned by a Request once its retry budget is
// exhausted (spec.md §4.4: "Exhaustion yields Unreachable").
var ErrUnreachable = errors.New("arp: resolution exhausted retry budget")

// Request is a single caller's pending-or-completed resolution,
// returned by Resolve. The caller's own Waker (passed into Resolve) is
// invoked exactly once, when the Request transitions out of pending.
type Request struct {
	mac  [6]byte
	err  error
	done bool
}

// Result reports the current state: ready is false while still
// resolving. Once ready, err is nil with a valid mac, or ErrUnreachable.
func (r *Request) Result() (mac [6]byte, err error, ready bool) {
	return r.mac, r.err, r.done
}

type entryState int

const (
	stateResolving entryState = iota
	stateValid
)

type entry struct {
	state    entryState
	mac      [6]byte
	expiry   time.Time
	attempts int
	requests []*Request
	waiters  []runtime.Waker
	taskID   runtime.TaskID
}

// Config holds the resolver's tunables (spec.md §4.4 defaults).
type Config struct {
	Retries            int
	RequestInterval    time.Duration
	CacheTTL           time.Duration
	AcceptGratuitousNew bool // create a Valid entry from an unsolicited reply
}

func DefaultConfig() Config {
	return Config{
		Retries:         constants.DefaultARPRequestRetries,
		RequestInterval: constants.DefaultARPRequestInterval,
		CacheTTL:        constants.DefaultARPCacheTTL,
	}
}

// Resolver is one LibOS instance's ARP cache and request state machine.
type Resolver struct {
	cfg      Config
	device   interfaces.Device
	sched    *runtime.Scheduler
	observer interfaces.Observer
	localIP  [4]byte
	localMAC [6]byte

	cache map[[4]byte]*entry
}

func New(cfg Config, device interfaces.Device, sched *runtime.Scheduler, observer interfaces.Observer, localIP [4]byte, localMAC [6]byte) *Resolver {
	return &Resolver{
		cfg: cfg, device: device, sched: sched, observer: observer,
		localIP: localIP, localMAC: localMAC,
		cache: make(map[[4]byte]*entry),
	}
}

// Seed installs a static Valid entry for ip, pre-empting resolution
// entirely (spec.md §6's arp_table: operator-supplied IP→MAC pairs).
// A zero ttl never expires.
func (r *Resolver) Seed(ip [4]byte, mac [6]byte, ttl time.Duration) {
	e := &entry{state: stateValid, mac: mac}
	if ttl > 0 {
		e.expiry = time.Now().Add(ttl)
	} else {
		e.expiry = time.Now().AddDate(100, 0, 0)
	}
	r.cache[ip] = e
}

// Lookup returns the cached MAC for ip if there's a Valid entry,
// without creating any state. Expiry is not checked here: an expired
// entry stays visible until EvictExpired removes it.
func (r *Resolver) Lookup(ip [4]byte) ([6]byte, bool) {
	e, ok := r.cache[ip]
	if !ok || e.state != stateValid {
		return [6]byte{}, false
	}
	return e.mac, true
}

// Resolve returns the MAC for ip if already cached, or starts/attaches
// to an in-flight resolution and returns a pending Request. waker is
// invoked once, when the returned Request becomes ready.
func (r *Resolver) Resolve(ip [4]byte, waker runtime.Waker) *Request {
	if mac, ok := r.Lookup(ip); ok {
		return &Request{mac: mac, done: true}
	}

	req := &Request{}
	e, exists := r.cache[ip]
	if exists && e.state == stateResolving {
		e.requests = append(e.requests, req)
		e.waiters = append(e.waiters, waker)
		return req
	}

	e = &entry{state: stateResolving, requests: []*Request{req}, waiters: []runtime.Waker{waker}}
	r.cache[ip] = e

	task := &retryTask{resolver: r, ip: ip}
	id, _ := r.sched.Spawn(task)
	e.taskID = id
	task.id = id

	return req
}

// AnnounceGratuitous broadcasts an unsolicited ARP announcement binding
// the resolver's own localIP to localMAC (a request with SenderIP ==
// TargetIP, per RFC 5227 §3's gratuitous-ARP shape), prompting every
// peer on the segment to update its cache before it ever asks. Intended
// to be called once, after Seed-ing any static entries, when the
// embedding LibOS starts with a fixed local address.
func (r *Resolver) AnnounceGratuitous() {
	frame := r.device.Pool().Alloc(buf.SizeStandard)
	const total = headers.EthernetHeaderLen + headers.ARPHeaderLen
	if err := frame.GrowTail(total); err != nil {
		frame.Drop()
		return
	}
	eth := headers.Ethernet{Dst: headers.Broadcast, Src: r.localMAC, EtherType: headers.EtherTypeARP}
	n, _ := headers.SerializeEthernet(frame.Bytes(), eth)
	a := headers.ARP{
		Opcode: headers.ARPOpRequest, SenderMAC: r.localMAC, SenderIP: r.localIP,
		TargetMAC: r.localMAC, TargetIP: r.localIP,
	}
	headers.SerializeARP(frame.Bytes()[n:], a)
	r.device.Transmit(frame)
}

// broadcastRequest sends an ARP request for ip.
func (r *Resolver) broadcastRequest(ip [4]byte) {
	frame := r.device.Pool().Alloc(buf.SizeStandard)
	const total = headers.EthernetHeaderLen + headers.ARPHeaderLen
	if err := frame.GrowTail(total); err != nil {
		frame.Drop()
		return
	}
	eth := headers.Ethernet{Dst: headers.Broadcast, Src: r.localMAC, EtherType: headers.EtherTypeARP}
	n, _ := headers.SerializeEthernet(frame.Bytes(), eth)
	a := headers.ARP{Opcode: headers.ARPOpRequest, SenderMAC: r.localMAC, SenderIP: r.localIP, TargetIP: ip}
	headers.SerializeARP(frame.Bytes()[n:], a)

	if ok, _ := r.device.Transmit(frame); !ok {
		// Best-effort per spec.md §4.2; the retry task will try again.
	}
}

// HandleReply processes an inbound ARP frame (request or reply),
// updating the cache and waking every waiter atomically (spec.md §4.4,
// §8 invariant 5: "No waiter remains on an entry that has transitioned
// to Valid or been evicted").
func (r *Resolver) HandleReply(a headers.ARP) {
	if a.Opcode == headers.ARPOpRequest {
		if a.TargetIP == r.localIP {
			r.sendReply(a)
		}
		// Fall through to the cache update either way: an existing
		// entry for the sender is refreshed, but a new one is created
		// only under AcceptGratuitousNew.
	}

	e, exists := r.cache[a.SenderIP]
	if !exists {
		if !r.cfg.AcceptGratuitousNew {
			return
		}
		e = &entry{}
		r.cache[a.SenderIP] = e
	}

	wasResolving := e.state == stateResolving
	e.state = stateValid
	e.mac = a.SenderMAC
	e.expiry = time.Now().Add(r.cfg.CacheTTL)

	if wasResolving {
		r.sched.Cancel(e.taskID)
		for _, req := range e.requests {
			req.mac = a.SenderMAC
			req.done = true
		}
		e.requests = nil
		for _, w := range e.waiters {
			w.Wake()
		}
		e.waiters = nil
	}
	if r.observer != nil {
		r.observer.ObserveARPResolution(true, 0)
	}
}

func (r *Resolver) sendReply(req headers.ARP) {
	frame := r.device.Pool().Alloc(buf.SizeStandard)
	const total = headers.EthernetHeaderLen + headers.ARPHeaderLen
	if err := frame.GrowTail(total); err != nil {
		frame.Drop()
		return
	}
	eth := headers.Ethernet{Dst: req.SenderMAC, Src: r.localMAC, EtherType: headers.EtherTypeARP}
	n, _ := headers.SerializeEthernet(frame.Bytes(), eth)
	reply := headers.ARP{
		Opcode: headers.ARPOpReply, SenderMAC: r.localMAC, SenderIP: r.localIP,
		TargetMAC: req.SenderMAC, TargetIP: req.SenderIP,
	}
	headers.SerializeARP(frame.Bytes()[n:], reply)
	r.device.Transmit(frame)
}

// EvictExpired drops Valid entries whose TTL has elapsed. Called
// periodically by the owning LibOS poll loop.
func (r *Resolver) EvictExpired(now time.Time) {
	for ip, e := range r.cache {
		if e.state == stateValid && now.After(e.expiry) {
			delete(r.cache, ip)
		}
	}
}

// retryTask drives one entry's request/retry/timeout cycle (spec.md
// §4.4): broadcast, suspend via timer, retry up to the budget, then
// fail every waiter with ErrUnreachable.
type retryTask struct {
	resolver *Resolver
	ip       [4]byte
	id       runtime.TaskID
	armed    bool
}

func (t *retryTask) Poll() runtime.PollResult {
	r := t.resolver
	if r.sched.Cancelled(t.id) {
		return runtime.Cancelled // a reply already resolved this entry
	}
	e, ok := r.cache[t.ip]
	if !ok {
		return runtime.Complete // resolved or evicted by something else already
	}

	if e.attempts >= r.cfg.Retries {
		delete(r.cache, t.ip)
		for _, req := range e.requests {
			req.err = ErrUnreachable
			req.done = true
		}
		for _, w := range e.waiters {
			w.Wake()
		}
		if r.observer != nil {
			r.observer.ObserveARPResolution(false, 0)
		}
		return runtime.Complete
	}

	e.attempts++
	r.broadcastRequest(t.ip)
	r.sched.SleepUntil(t.id, time.Now().Add(r.cfg.RequestInterval))
	return runtime.Pending
}
