// Package flowtable tracks bidirectional 5-tuple flows and answers the
// per-window queries the aggregator needs.
package flowtable

import (
	"sort"
	"time"

	"abyss-sniffer/internal/model"
)

// Table maps flow keys to their accumulators. Both directions of a
// conversation share the entry keyed by the first-seen direction. The
// table is owned by the aggregator goroutine; methods are not locked.
type Table struct {
	flows     map[model.FlowKey]*model.FlowState
	timeout   time.Duration
	heavyMbps float64
}

// New creates an empty table. Flows idle longer than timeout are removed
// by Expire; heavyMbps is the per-flow rate above which a flow counts as a
// heavy stream.
func New(timeout time.Duration, heavyMbps float64) *Table {
	return &Table{
		flows:     make(map[model.FlowKey]*model.FlowState, 1024),
		timeout:   timeout,
		heavyMbps: heavyMbps,
	}
}

// Update folds one decoded packet into the table. Packets without an IP
// protocol (ARP, unparsed frames) carry no usable 5-tuple and are skipped;
// they still count toward window totals upstream.
func (t *Table) Update(p model.PacketHeader) {
	if p.Protocol == 0 {
		return
	}

	key := model.FlowKey{
		SrcIP:    p.SrcIP,
		DstIP:    p.DstIP,
		SrcPort:  p.SrcPort,
		DstPort:  p.DstPort,
		Protocol: p.Protocol,
	}

	// Reverse direction first: traffic flowing back marks the flow
	// bidirectional.
	if flow, ok := t.flows[key.Reverse()]; ok {
		accumulate(flow, p)
		flow.Direction = model.DirectionBidirectional
		return
	}

	if flow, ok := t.flows[key]; ok {
		accumulate(flow, p)
		return
	}

	flow := &model.FlowState{
		Key:           key,
		BytesTotal:    uint64(p.WireLen),
		PacketsTotal:  1,
		BytesWindow:   uint64(p.WireLen),
		PacketsWindow: 1,
		IsHTTPS:       p.SrcPort == 443 || p.DstPort == 443,
		FirstSeen:     p.Timestamp,
		LastSeen:      p.Timestamp,
	}
	if p.SrcPort < p.DstPort {
		flow.Direction = model.DirectionUp
	}
	t.flows[key] = flow
}

func accumulate(flow *model.FlowState, p model.PacketHeader) {
	flow.BytesTotal += uint64(p.WireLen)
	flow.PacketsTotal++
	flow.BytesWindow += uint64(p.WireLen)
	flow.PacketsWindow++
	flow.LastSeen = p.Timestamp
}

// Expire removes every flow whose last packet is older than the timeout.
func (t *Table) Expire(now time.Time) int {
	removed := 0
	for key, flow := range t.flows {
		if now.Sub(flow.LastSeen) > t.timeout {
			delete(t.flows, key)
			removed++
		}
	}
	return removed
}

// ResetWindowCounters zeroes the per-window counters of every flow. Called
// at each frame boundary; totals are untouched.
func (t *Table) ResetWindowCounters() {
	for _, flow := range t.flows {
		flow.BytesWindow = 0
		flow.PacketsWindow = 0
	}
}

// ActiveCount returns the number of tracked flows.
func (t *Table) ActiveCount() int {
	return len(t.flows)
}

// CountHTTPS returns how many tracked flows touch port 443.
func (t *Table) CountHTTPS() uint32 {
	var n uint32
	for _, flow := range t.flows {
		if flow.IsHTTPS {
			n++
		}
	}
	return n
}

// CountHeavyStreams returns how many flows moved more than the heavy-stream
// threshold during the current window.
func (t *Table) CountHeavyStreams(windowSeconds float64) uint32 {
	if windowSeconds <= 0 {
		return 0
	}
	thresholdBytes := t.heavyMbps * 1e6 / 8 * windowSeconds
	var n uint32
	for _, flow := range t.flows {
		if float64(flow.BytesWindow) > thresholdBytes {
			n++
		}
	}
	return n
}

// TotalBPS sums this window's bytes across all flows as a bit rate.
func (t *Table) TotalBPS(windowSeconds float64) uint64 {
	if windowSeconds <= 0 {
		return 0
	}
	var bytes uint64
	for _, flow := range t.flows {
		bytes += flow.BytesWindow
	}
	return uint64(float64(bytes) * 8 / windowSeconds)
}

// TotalPPS sums this window's packets across all flows as a packet rate.
func (t *Table) TotalPPS(windowSeconds float64) uint32 {
	if windowSeconds <= 0 {
		return 0
	}
	var pkts uint64
	for _, flow := range t.flows {
		pkts += flow.PacketsWindow
	}
	return uint32(float64(pkts) / windowSeconds)
}

// TopFlows returns up to n summaries of the flows with the most window
// traffic, busiest first. Idle flows are left out.
func (t *Table) TopFlows(n int, windowSeconds float64) []model.TopFlowSummary {
	if windowSeconds <= 0 {
		return nil
	}

	busy := make([]*model.FlowState, 0, len(t.flows))
	for _, flow := range t.flows {
		if flow.BytesWindow > 0 {
			busy = append(busy, flow)
		}
	}
	sort.Slice(busy, func(i, j int) bool {
		return busy[i].BytesWindow > busy[j].BytesWindow
	})
	if len(busy) > n {
		busy = busy[:n]
	}

	top := make([]model.TopFlowSummary, 0, len(busy))
	for _, flow := range busy {
		top = append(top, model.TopFlowSummary{
			Key:    flow.Key.String(),
			BPS:    uint64(float64(flow.BytesWindow) * 8 / windowSeconds),
			RTT:    flow.RTTEstimateMS,
			Jitter: flow.JitterMS,
			Dir:    model.DirectionString(flow.Direction),
		})
	}
	return top
}
