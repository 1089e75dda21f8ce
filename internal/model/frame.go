package model

// SchemaVersion is carried in every telemetry frame so subscribers can
// reject frames they do not understand.
const SchemaVersion = 1

// MaxTopFlows bounds the per-frame top-talker list.
const MaxTopFlows = 8

// NetMetrics holds the global rates of one aggregation window.
type NetMetrics struct {
	BPS         uint64  `json:"bps"`
	PPS         uint32  `json:"pps"`
	ActiveFlows uint32  `json:"active_flows"`
	LatencyMS   float64 `json:"latency_ms"`
	PacketLoss  float64 `json:"packet_loss"`
	ErrorRate   float64 `json:"error_rate"`
}

// ProtoCounters holds per-window protocol counts. HTTPSFlows and
// HeavyStreams are snapshots of the flow table rather than window counters.
type ProtoCounters struct {
	ARP            uint32 `json:"arp"`
	DNS            uint32 `json:"dns"`
	UDPSmall       uint32 `json:"udp_small"`
	HTTPSFlows     uint32 `json:"https_flows"`
	HeavyStreams   uint32 `json:"heavy_streams"`
	RST            uint32 `json:"rst"`
	ICMPUnreach    uint32 `json:"icmp_unreach"`
	FirewallBlocks uint32 `json:"firewall_blocks"`
}

// TopFlowSummary is one entry of the per-frame top-talker list.
type TopFlowSummary struct {
	Key    string  `json:"key"`
	BPS    uint64  `json:"bps"`
	RTT    float64 `json:"rtt"`
	Jitter float64 `json:"jitter"`
	Dir    string  `json:"dir"`
}

// SnifferHealth reports the pipeline's own condition.
type SnifferHealth struct {
	CaptureDrop uint64  `json:"capture_drop"`
	QueueFill   float32 `json:"queue_fill"`
	SnifferFPS  float32 `json:"sniffer_fps"`
}

// TelemetryFrame is the JSON document broadcast to every subscriber at the
// end of each aggregation window. Timestamp is seconds since daemon start.
type TelemetryFrame struct {
	Schema    uint32           `json:"schema"`
	Timestamp float64          `json:"t"`
	Net       NetMetrics       `json:"net"`
	Proto     ProtoCounters    `json:"proto"`
	TopFlows  []TopFlowSummary `json:"top_flows"`
	Health    SnifferHealth    `json:"health"`
}
