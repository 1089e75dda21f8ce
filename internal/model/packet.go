package model

import (
	"fmt"
	"time"
)

// IP protocol numbers the pipeline distinguishes.
const (
	ProtocolICMP   = 1
	ProtocolTCP    = 6
	ProtocolUDP    = 17
	ProtocolICMPv6 = 58
)

// TCPFlagRST is the RST bit of the TCP flag byte.
const TCPFlagRST = 0x04

// Flow direction codes. The first packet of a flow sets the tag: "up" when
// its source port is numerically lower than its destination port, "down"
// otherwise, and "bidi" once any reverse-direction packet has been seen.
const (
	DirectionDown uint8 = iota
	DirectionUp
	DirectionBidirectional
)

// DirectionString renders a direction code as the schema label.
func DirectionString(dir uint8) string {
	switch dir {
	case DirectionUp:
		return "up"
	case DirectionBidirectional:
		return "bidi"
	default:
		return "down"
	}
}

// PacketHeader is the record the decoder emits for every captured frame.
// When parsing fails partway through, fields past the failed stage stay
// zero and the record is still queued, so window totals count every frame.
type PacketHeader struct {
	Timestamp   time.Time
	CapturedLen uint32
	WireLen     uint32

	IPVersion uint8  // 0 (non-IP), 4 or 6
	SrcIP     uint32 // IPv4 address, or the FNV-1a fold of an IPv6 address
	DstIP     uint32
	Protocol  uint8

	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8

	IsARP  bool
	IsDNS  bool
	IsICMP bool
}

// FlowKey identifies one direction of a 5-tuple. All fields are comparable,
// so the key is usable directly as a map key; the runtime hash composes the
// per-field hashes.
type FlowKey struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Reverse returns the key of the opposite direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{
		SrcIP:    k.DstIP,
		DstIP:    k.SrcIP,
		SrcPort:  k.DstPort,
		DstPort:  k.SrcPort,
		Protocol: k.Protocol,
	}
}

// String renders the flow identifier used in telemetry frames: dotted
// source and destination addresses joined with the destination port. Only
// the destination port appears in the identifier.
func (k FlowKey) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d.%d.%d.%d:%d",
		k.SrcIP>>24&0xFF, k.SrcIP>>16&0xFF, k.SrcIP>>8&0xFF, k.SrcIP&0xFF,
		k.DstIP>>24&0xFF, k.DstIP>>16&0xFF, k.DstIP>>8&0xFF, k.DstIP&0xFF,
		k.DstPort)
}

// FlowState accumulates per-flow counters. The key is the one of the
// first-seen direction; reverse-direction packets update the same entry.
// Owned exclusively by the aggregator goroutine.
type FlowState struct {
	Key           FlowKey
	BytesTotal    uint64
	PacketsTotal  uint64
	BytesWindow   uint64
	PacketsWindow uint64
	RTTEstimateMS float64 // reserved
	JitterMS      float64 // reserved
	IsHTTPS       bool
	Direction     uint8
	FirstSeen     time.Time
	LastSeen      time.Time
}
