// Package aggregator drains the packet ring on a fixed cadence, maintains
// the flow table, and emits one telemetry frame per window.
package aggregator

import (
	"log"
	"math"
	"sync/atomic"
	"time"

	"abyss-sniffer/internal/config"
	"abyss-sniffer/internal/engine/flowtable"
	"abyss-sniffer/internal/engine/ring"
	"abyss-sniffer/internal/model"
)

const (
	// maxDrainPerTick bounds how many records one loop iteration consumes,
	// so a flooded ring cannot starve frame emission.
	maxDrainPerTick = 4096
	// expireInterval is how often idle flows are swept out.
	expireInterval = 5 * time.Second
	// maxInterPacketGapMS caps the latency proxy's per-window input.
	maxInterPacketGapMS = 500
)

// FrameFunc receives each completed telemetry frame.
type FrameFunc func(*model.TelemetryFrame)

// Aggregator consumes the ring and produces frames. The flow table and all
// window counters are confined to the Run goroutine; health samples cross
// in through atomics and frames cross out through the callback.
type Aggregator struct {
	cfg     *config.Config
	ring    *ring.PacketRing
	table   *flowtable.Table
	onFrame FrameFunc

	running   atomic.Bool
	startTime time.Time

	windowARP        uint32
	windowDNS        uint32
	windowUDPSmall   uint32
	windowRST        uint32
	windowICMP       uint32
	windowTotalPkts  uint32
	windowTotalBytes uint64

	ewmaLatencyMS float64

	healthCaptureDrop atomic.Uint64
	healthQueueFill   atomic.Uint32 // float32 bits

	framesProduced uint64
}

// New wires an aggregator to its ring. onFrame may be nil; frames are then
// produced and discarded.
func New(cfg *config.Config, r *ring.PacketRing, onFrame FrameFunc) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		ring:    r,
		table:   flowtable.New(cfg.FlowTimeout(), cfg.HeavyThroughputMbps),
		onFrame: onFrame,
	}
}

// Run executes the window loop until Stop is called. It blocks, so callers
// start it on its own goroutine.
func (a *Aggregator) Run() {
	a.running.Store(true)
	a.startTime = time.Now()

	window := a.cfg.WindowDuration()
	log.Printf("[abyss] aggregator started (window %v, flow timeout %v)", window, a.cfg.FlowTimeout())

	// Sleeping a quarter window keeps frame jitter low without spinning.
	pause := window / 4
	if pause < time.Millisecond {
		pause = time.Millisecond
	}
	if pause > 8*time.Millisecond {
		pause = 8 * time.Millisecond
	}

	windowStart := time.Now()
	lastExpire := windowStart

	for a.running.Load() {
		a.drain()

		now := time.Now()
		if elapsed := now.Sub(windowStart); elapsed >= window {
			frame := a.buildFrame(now, elapsed.Seconds())
			a.framesProduced++
			if a.onFrame != nil {
				a.onFrame(frame)
			}
			a.resetWindow()
			windowStart = now
		}

		if now.Sub(lastExpire) > expireInterval {
			a.table.Expire(now)
			lastExpire = now
		}

		time.Sleep(pause)
	}

	log.Printf("[abyss] aggregator stopped after %d frames", a.framesProduced)
}

// Stop asks Run to exit after its current iteration. Idempotent and safe
// from any goroutine.
func (a *Aggregator) Stop() {
	a.running.Store(false)
}

// UpdateHealth publishes the latest supervisor sample for the next frame.
// Frames tolerate stale values; the two fields are not updated atomically
// with respect to each other.
func (a *Aggregator) UpdateHealth(captureDrop uint64, queueFill float32) {
	a.healthCaptureDrop.Store(captureDrop)
	a.healthQueueFill.Store(math.Float32bits(queueFill))
}

func (a *Aggregator) drain() {
	for i := 0; i < maxDrainPerTick; i++ {
		p, ok := a.ring.Pop()
		if !ok {
			return
		}

		a.table.Update(p)

		a.windowTotalPkts++
		a.windowTotalBytes += uint64(p.WireLen)

		if p.IsARP {
			a.windowARP++
		}
		if p.IsDNS {
			a.windowDNS++
		}
		if p.IsICMP {
			a.windowICMP++
		}
		if p.Protocol == model.ProtocolUDP && p.WireLen <= a.cfg.SmallPacketThreshold {
			a.windowUDPSmall++
		}
		if p.TCPFlags&model.TCPFlagRST != 0 {
			a.windowRST++
		}
	}
}

func (a *Aggregator) buildFrame(now time.Time, windowSeconds float64) *model.TelemetryFrame {
	frame := &model.TelemetryFrame{
		Schema:    model.SchemaVersion,
		Timestamp: now.Sub(a.startTime).Seconds(),
	}

	if windowSeconds > 0 {
		frame.Net.BPS = uint64(float64(a.windowTotalBytes) * 8 / windowSeconds)
		frame.Net.PPS = uint32(float64(a.windowTotalPkts) / windowSeconds)
		frame.Health.SnifferFPS = float32(1 / windowSeconds)
	}
	frame.Net.ActiveFlows = uint32(a.table.ActiveCount())

	// Latency proxy: EWMA over the window's mean inter-packet gap. The gap
	// is capped before blending so a near-idle window cannot spike the
	// estimate; a single packet has no spacing to measure.
	if a.windowTotalPkts > 1 && windowSeconds > 0 {
		gapMS := windowSeconds * 1000 / float64(a.windowTotalPkts)
		if gapMS > maxInterPacketGapMS {
			gapMS = maxInterPacketGapMS
		}
		a.ewmaLatencyMS = a.cfg.EWMAAlpha*gapMS + (1-a.cfg.EWMAAlpha)*a.ewmaLatencyMS
	}
	frame.Net.LatencyMS = a.ewmaLatencyMS

	if a.windowTotalPkts > 0 {
		pkts := float64(a.windowTotalPkts)
		frame.Net.PacketLoss = clamp01(float64(a.windowRST) / pkts)
		frame.Net.ErrorRate = clamp01(float64(a.windowRST+a.windowICMP) / pkts)
	}

	frame.Proto = model.ProtoCounters{
		ARP:          a.windowARP,
		DNS:          a.windowDNS,
		UDPSmall:     a.windowUDPSmall,
		HTTPSFlows:   a.table.CountHTTPS(),
		HeavyStreams: a.table.CountHeavyStreams(windowSeconds),
		RST:          a.windowRST,
		ICMPUnreach:  a.windowICMP,
	}

	frame.TopFlows = a.table.TopFlows(model.MaxTopFlows, windowSeconds)
	if frame.TopFlows == nil {
		frame.TopFlows = []model.TopFlowSummary{}
	}

	frame.Health.CaptureDrop = a.healthCaptureDrop.Load()
	frame.Health.QueueFill = math.Float32frombits(a.healthQueueFill.Load())

	sanitize(&frame.Timestamp)
	sanitize(&frame.Net.LatencyMS)
	sanitize(&frame.Net.PacketLoss)
	sanitize(&frame.Net.ErrorRate)

	return frame
}

func (a *Aggregator) resetWindow() {
	a.table.ResetWindowCounters()
	a.windowARP = 0
	a.windowDNS = 0
	a.windowUDPSmall = 0
	a.windowRST = 0
	a.windowICMP = 0
	a.windowTotalPkts = 0
	a.windowTotalBytes = 0
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// sanitize zeroes non-finite values; JSON has no encoding for NaN or Inf.
func sanitize(v *float64) {
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		*v = 0
	}
}
