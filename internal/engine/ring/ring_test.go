package ring

import (
	"math/rand"
	"runtime"
	"testing"

	"abyss-sniffer/internal/model"
)

func seqPacket(seq uint32) model.PacketHeader {
	return model.PacketHeader{SrcIP: seq, WireLen: 60}
}

func TestPushPopFIFO(t *testing.T) {
	r := new(PacketRing)

	if _, ok := r.Pop(); ok {
		t.Fatal("pop on an empty ring reported a record")
	}

	const n = 100
	for i := uint32(0); i < n; i++ {
		r.Push(seqPacket(i))
	}
	if got := r.Len(); got != n {
		t.Fatalf("Len = %d after %d pushes", got, n)
	}

	for i := uint32(0); i < n; i++ {
		p, ok := r.Pop()
		if !ok {
			t.Fatalf("ring empty after %d pops, expected %d records", i, n)
		}
		if p.SrcIP != i {
			t.Fatalf("pop %d returned sequence %d, want %d", i, p.SrcIP, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("ring not empty after draining")
	}
	if r.Drops() != 0 {
		t.Errorf("drops = %d without overflow", r.Drops())
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	r := new(PacketRing)

	const pushes = 10000
	for i := uint32(0); i < pushes; i++ {
		r.Push(seqPacket(i))
	}

	if got, want := r.Drops(), uint64(pushes-Capacity); got != want {
		t.Errorf("drops = %d, want %d", got, want)
	}
	if fill := r.FillRatio(); fill != 1.0 {
		t.Errorf("fill ratio = %v on a full ring, want 1.0", fill)
	}

	// The survivors are the newest Capacity records, still in order.
	next := uint32(pushes - Capacity)
	for {
		p, ok := r.Pop()
		if !ok {
			break
		}
		if p.SrcIP != next {
			t.Fatalf("pop returned sequence %d, want %d", p.SrcIP, next)
		}
		next++
	}
	if next != pushes {
		t.Errorf("drained up to sequence %d, want %d", next, pushes)
	}
	if got, want := r.Drops(), uint64(pushes-Capacity); got != want {
		t.Errorf("drops moved to %d after draining, want %d", got, want)
	}
}

// Drops must always equal pushes minus pops minus whatever is still queued,
// regardless of how pushes and pops interleave.
func TestDropAccounting(t *testing.T) {
	r := new(PacketRing)
	rng := rand.New(rand.NewSource(42))

	var pushes, pops uint64
	for i := 0; i < 200000; i++ {
		if rng.Intn(10) < 7 {
			r.Push(seqPacket(uint32(pushes)))
			pushes++
		} else if _, ok := r.Pop(); ok {
			pops++
		}
	}

	queued := uint64(r.Len())
	if got, want := r.Drops(), pushes-pops-queued; got != want {
		t.Errorf("drops = %d, want pushes-pops-queued = %d (pushes=%d pops=%d queued=%d)",
			got, want, pushes, pops, queued)
	}
}

// One producer and one consumer running concurrently below capacity must
// hand over every record in order with no drops.
func TestConcurrentHandoff(t *testing.T) {
	r := new(PacketRing)
	const n = 4096

	done := make(chan uint32, 1)
	go func() {
		var got uint32
		next := uint32(0)
		for got < n {
			p, ok := r.Pop()
			if !ok {
				runtime.Gosched()
				continue
			}
			if p.SrcIP != next {
				done <- p.SrcIP
				return
			}
			next++
			got++
		}
		done <- n
	}()

	for i := uint32(0); i < n; i++ {
		r.Push(seqPacket(i))
		if i%64 == 0 {
			runtime.Gosched()
		}
	}

	if result := <-done; result != n {
		t.Fatalf("consumer saw out-of-order sequence %d", result)
	}
	if r.Drops() != 0 {
		t.Errorf("drops = %d, want 0 when pushes stay below capacity", r.Drops())
	}
}

func TestFillRatio(t *testing.T) {
	r := new(PacketRing)

	if fill := r.FillRatio(); fill != 0 {
		t.Errorf("empty ring fill = %v, want 0", fill)
	}

	for i := uint32(0); i < Capacity/2; i++ {
		r.Push(seqPacket(i))
	}
	if fill := r.FillRatio(); fill != 0.5 {
		t.Errorf("half-full ring fill = %v, want 0.5", fill)
	}

	for i := uint32(0); i < Capacity/2; i++ {
		r.Push(seqPacket(i))
	}
	if fill := r.FillRatio(); fill != 1.0 {
		t.Errorf("full ring fill = %v, want 1.0", fill)
	}
}
