//go:build linux

package device

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/catnipstack/catnip/internal/buf"
	"github.com/catnipstack/catnip/internal/logging"
)

// RawSocketDevice is a kernel-bypass-adjacent Device implementation
// over an AF_PACKET SOCK_RAW socket bound to one interface. It is the
// closest this core gets to a real NIC without a DPDK/io_uring PMD:
// frames still cross one syscall boundary per burst, but there is no
// kernel protocol-stack involvement — the kernel only demuxes by
// interface index, exactly the "no kernel involvement on the fast
// path" framing of spec.md §1.
//
// Grounded on the teacher's internal/queue.Runner: a raw fd opened
// once, a dedicated OS thread pinned with runtime.LockOSThread (the
// teacher pins per-queue threads for ublk_drv's thread-affinity
// requirement; here it's so repeated non-blocking reads on the same fd
// don't bounce across Ps), and CPU affinity applied the same way via
// unix.SchedSetaffinity.
type RawSocketDevice struct {
	fd   int
	mac  [6]byte
	pool *buf.Pool

	mu      sync.Mutex
	ifindex int
}

// NewRawSocketDevice opens an AF_PACKET/SOCK_RAW socket bound to the
// named interface. Requires CAP_NET_RAW (or root).
func NewRawSocketDevice(ifaceName string, cpuAffinity int) (*RawSocketDevice, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("device: socket(AF_PACKET): %w", err)
	}

	iface, err := interfaceByName(ifaceName)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("device: bind: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("device: set non-blocking: %w", err)
	}

	if cpuAffinity >= 0 {
		var mask unix.CPUSet
		mask.Set(cpuAffinity)
		// Best-effort: a failure here is not fatal to correctness, only
		// to cache locality, mirroring the teacher's runner.go handling
		// of SchedSetaffinity failures.
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			logging.Default().Warn("failed to set device thread CPU affinity", "err", err)
		}
	}

	return &RawSocketDevice{fd: fd, mac: iface.mac, pool: buf.NewPool(), ifindex: iface.index}, nil
}

func htons(v int) int {
	return int(uint16(v)>>8) | int(uint16(v)<<8)&0xff00
}

// Receive performs up to len(burst) non-blocking reads, pinning the
// calling goroutine to its OS thread for the duration so the raw fd's
// kernel-side socket buffer is drained from a stable thread, matching
// the teacher's per-queue thread pinning discipline.
func (d *RawSocketDevice) Receive(burst []*buf.Buffer) (int, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	n := 0
	for n < len(burst) {
		b := d.pool.Alloc(buf.SizeStandard)
		if err := b.GrowTail(buf.SizeStandard); err != nil {
			b.Drop()
			return n, err
		}
		readN, _, err := unix.Recvfrom(d.fd, b.Bytes(), 0)
		if err != nil {
			b.Drop()
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return n, fmt.Errorf("device: recvfrom: %w", err)
		}
		_ = b.TrimTail(buf.SizeStandard - readN)
		burst[n] = b
		n++
	}
	return n, nil
}

// Transmit writes one frame to the raw socket. Best-effort: ENOBUFS is
// treated as a drop rather than an error, per spec.md §4.2.
func (d *RawSocketDevice) Transmit(frame *buf.Buffer) (bool, error) {
	defer frame.Drop()
	_, err := unix.Write(d.fd, frame.Bytes())
	if err != nil {
		if err == unix.ENOBUFS {
			return false, nil
		}
		return false, fmt.Errorf("device: write: %w", err)
	}
	return true, nil
}

func (d *RawSocketDevice) MAC() [6]byte    { return d.mac }
func (d *RawSocketDevice) Pool() *buf.Pool { return d.pool }

func (d *RawSocketDevice) Close() error {
	return syscall.Close(d.fd)
}

type netInterface struct {
	index int
	mac   [6]byte
}

func interfaceByName(name string) (netInterface, error) {
	ifi, err := netInterfaceByName(name)
	if err != nil {
		return netInterface{}, fmt.Errorf("device: lookup interface %q: %w", name, err)
	}
	return ifi, nil
}
