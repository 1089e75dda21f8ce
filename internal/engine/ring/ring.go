// Package ring provides the single-producer single-consumer queue that
// decouples the capture goroutine from the aggregator goroutine.
package ring

import (
	"sync/atomic"

	"abyss-sniffer/internal/model"
)

// Capacity is the number of slots in the ring. It must be a power of two
// so slot addressing can mask instead of divide.
const Capacity = 8192

const indexMask = Capacity - 1

// PacketRing is a bounded queue of decoded packet headers with an
// overwrite-on-full policy: when the producer catches up with the consumer
// it advances the read index, discarding the oldest record and counting it
// as a drop. Head and tail are free-running; a slot is addressed by
// index & indexMask and the ring is full when head-tail == Capacity.
//
// Exactly one goroutine may push and one may pop. The overwrite path
// writes the consumer's index from the producer side, which is only sound
// under that discipline. Drops and FillRatio are safe from any goroutine.
type PacketRing struct {
	buf [Capacity]model.PacketHeader

	_    [64]byte // keep the hot indices on separate cache lines
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
	_    [56]byte

	drops atomic.Uint64
}

// Push appends one record, overwriting the oldest when the ring is full.
// Producer side only.
func (r *PacketRing) Push(p model.PacketHeader) {
	head := r.head.Load()
	if tail := r.tail.Load(); head-tail == Capacity {
		r.tail.Store(tail + 1)
		r.drops.Add(1)
	}
	r.buf[head&indexMask] = p
	r.head.Store(head + 1)
}

// Pop removes the oldest record, reporting false when the ring is empty.
// Consumer side only.
func (r *PacketRing) Pop() (model.PacketHeader, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return model.PacketHeader{}, false
	}
	p := r.buf[tail&indexMask]
	r.tail.Store(tail + 1)
	return p, true
}

// Len reports how many records are queued. The value is a racy sample when
// both sides are active. Tail is read first: head never decreases, so the
// difference cannot underflow.
func (r *PacketRing) Len() int {
	tail := r.tail.Load()
	return int(r.head.Load() - tail)
}

// FillRatio reports ring occupancy in [0, 1]. Pushes landing between the
// two index reads can inflate the sample, so it is capped at 1.
func (r *PacketRing) FillRatio() float32 {
	tail := r.tail.Load()
	fill := float32(r.head.Load()-tail) / float32(Capacity)
	if fill > 1 {
		return 1
	}
	return fill
}

// Drops returns how many records were lost to overwrites.
func (r *PacketRing) Drops() uint64 {
	return r.drops.Load()
}
