package buf

import (
	"errors"
	"sync/atomic"
)

// ErrOutOfRoom is returned when an adjust operation would violate the
// head ≤ tail ≤ capacity invariant of spec.md §3. It maps to the root
// package's OutOfRoom error kind.
var ErrOutOfRoom = errors.New("buf: adjustment exceeds buffer capacity")

type refCount struct{ n atomic.Int32 }

func newRefCount(initial int32) *refCount {
	r := &refCount{}
	r.n.Store(initial)
	return r
}

// Buffer is an owned handle over a contiguous byte region obtained from
// a pool (spec.md §3). Multiple Buffer handles can share one underlying
// slab (via Clone or Split); the slab returns to its pool exactly once,
// when the last handle referencing it is dropped.
type Buffer struct {
	pool *Pool
	slab *[]byte
	refs *refCount

	cap  int
	head int
	tail int
}

// Len returns the number of valid bytes currently between head and tail.
func (b *Buffer) Len() int { return b.tail - b.head }

// Cap returns the total backing capacity of the slab.
func (b *Buffer) Cap() int { return b.cap }

// Bytes returns the valid region [head, tail) of the buffer. The slice
// aliases the underlying slab — callers must not retain it past the
// Buffer's lifetime without cloning.
func (b *Buffer) Bytes() []byte {
	return (*b.slab)[b.head:b.tail]
}

// GrowTail extends the valid region by n bytes, for appending payload
// (e.g. a fresh TX buffer before header serialization). Fails with
// ErrOutOfRoom if it would exceed capacity.
func (b *Buffer) GrowTail(n int) error {
	if b.tail+n > b.cap {
		return ErrOutOfRoom
	}
	b.tail += n
	return nil
}

// AdjustHead moves the head offset by delta: negative to prepend room
// for a header (grow backward, never past 0), positive to strip a
// parsed header (shrink forward, never past tail). Both cases
// correspond to spec.md §3's adjust_head(±n).
func (b *Buffer) AdjustHead(delta int) error {
	newHead := b.head + delta
	if newHead < 0 || newHead > b.tail {
		return ErrOutOfRoom
	}
	b.head = newHead
	return nil
}

// TrimTail shrinks the valid region by n bytes from the tail.
func (b *Buffer) TrimTail(n int) error {
	newTail := b.tail - n
	if newTail < b.head {
		return ErrOutOfRoom
	}
	b.tail = newTail
	return nil
}

// Clone produces a second handle over the same underlying region,
// raising the shared refcount. Mutations through either handle's
// Bytes() are visible to the other — Clone shares storage, it does not
// copy it. Dropping the clone alone leaves the original's observable
// state unchanged (spec.md §8 round-trip law).
func (b *Buffer) Clone() *Buffer {
	b.refs.n.Add(1)
	clone := *b
	return &clone
}

// Split produces two non-overlapping handles over one region: the
// first covering [head, head+at), the second [head+at, tail). Used for
// TCP segmentation without copying the send buffer. Both halves share
// the same refcount as the original, which is consumed by the split
// (callers must Drop both returned buffers, not the original, to avoid
// double-counting).
func (b *Buffer) Split(at int) (*Buffer, *Buffer, error) {
	if at < 0 || b.head+at > b.tail {
		return nil, nil, ErrOutOfRoom
	}
	b.refs.n.Add(1) // the second half needs its own reference
	first := &Buffer{pool: b.pool, slab: b.slab, refs: b.refs, cap: b.cap, head: b.head, tail: b.head + at}
	second := &Buffer{pool: b.pool, slab: b.slab, refs: b.refs, cap: b.cap, head: b.head + at, tail: b.tail}
	return first, second, nil
}

// Drop releases this handle. When the last handle over a slab is
// dropped, the slab returns to its pool, satisfying spec.md §8's
// no-buffer-leak invariant.
func (b *Buffer) Drop() {
	if b.refs.n.Add(-1) == 0 {
		b.pool.putSlab(b.slab)
	}
}
