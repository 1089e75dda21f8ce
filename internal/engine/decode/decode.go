// Package decode turns raw link-layer frames into model.PacketHeader
// records without allocating. Every read is bounds-checked against the
// captured length; a frame that fails a stage keeps whatever the earlier
// stages recorded instead of returning an error.
package decode

import (
	"encoding/binary"
	"time"

	"github.com/google/gopacket/layers"

	"abyss-sniffer/internal/model"
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
	etherTypeVLAN = 0x8100 // 802.1Q tag
	etherTypeQinQ = 0x88A8 // 802.1ad service tag
	etherTypeIPv6 = 0x86DD
)

const (
	ethernetHeaderLen = 14
	sllHeaderLen      = 16
	nullHeaderLen     = 4
	vlanTagLen        = 4
	ipv4MinHeaderLen  = 20
	ipv6HeaderLen     = 40
	tcpMinHeaderLen   = 20
	udpHeaderLen      = 8
)

// IPv6 extension headers the walker skips over.
const (
	ipv6ExtHopByHop = 0
	ipv6ExtRouting  = 43
	ipv6ExtFragment = 44
	ipv6ExtDestOpts = 60
)

// maxExtensionHops bounds the IPv6 extension chain walk.
const maxExtensionHops = 8

// FNV-1a parameters used to fold IPv6 addresses into the 32-bit key space
// shared with IPv4.
const (
	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
)

func fnv1a(data []byte) uint32 {
	h := fnvOffsetBasis
	for _, b := range data {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}

// Decode parses one captured frame into a packet header. data is the
// captured bytes, caplen and wirelen the capture and on-wire lengths, and
// linkType the framing of the capture handle. Unrecognized link types
// yield a record with only the timestamp and lengths set.
func Decode(data []byte, caplen, wirelen uint32, linkType layers.LinkType, ts time.Time) model.PacketHeader {
	ph := model.PacketHeader{
		Timestamp:   ts,
		CapturedLen: caplen,
		WireLen:     wirelen,
	}

	n := int(caplen)
	if n > len(data) {
		n = len(data)
	}
	data = data[:n]

	var offset int
	var etherType uint16

	switch linkType {
	case layers.LinkTypeEthernet:
		if n < ethernetHeaderLen {
			return ph
		}
		etherType = binary.BigEndian.Uint16(data[12:14])
		offset = ethernetHeaderLen
	case layers.LinkTypeLinuxSLL:
		if n < sllHeaderLen {
			return ph
		}
		etherType = binary.BigEndian.Uint16(data[14:16])
		offset = sllHeaderLen
	case layers.LinkTypeNull:
		if n < nullHeaderLen {
			return ph
		}
		// BSD loopback prepends the address family in host byte order.
		if binary.NativeEndian.Uint32(data[0:4]) == 2 {
			etherType = etherTypeIPv4
		} else {
			etherType = etherTypeIPv6
		}
		offset = nullHeaderLen
	default:
		return ph
	}

	// Strip up to two VLAN tags (802.1Q, or 802.1ad QinQ).
	for i := 0; i < 2 && (etherType == etherTypeVLAN || etherType == etherTypeQinQ); i++ {
		if offset+vlanTagLen > n {
			return ph
		}
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanTagLen
	}

	switch etherType {
	case etherTypeARP:
		ph.IsARP = true
	case etherTypeIPv4:
		decodeIPv4(data, offset, &ph)
	case etherTypeIPv6:
		decodeIPv6(data, offset, &ph)
	}
	return ph
}

func decodeIPv4(data []byte, offset int, ph *model.PacketHeader) {
	if offset+ipv4MinHeaderLen > len(data) {
		return
	}
	verIHL := data[offset]
	if verIHL>>4 != 4 {
		return
	}
	headerLen := int(verIHL&0x0F) * 4
	if headerLen < ipv4MinHeaderLen || offset+headerLen > len(data) {
		return
	}

	ph.IPVersion = 4
	ph.Protocol = data[offset+9]
	ph.SrcIP = binary.BigEndian.Uint32(data[offset+12 : offset+16])
	ph.DstIP = binary.BigEndian.Uint32(data[offset+16 : offset+20])

	decodeTransport(data, offset+headerLen, ph)
}

func decodeIPv6(data []byte, offset int, ph *model.PacketHeader) {
	if offset+ipv6HeaderLen > len(data) {
		return
	}

	ph.IPVersion = 6
	ph.SrcIP = fnv1a(data[offset+8 : offset+24])
	ph.DstIP = fnv1a(data[offset+24 : offset+40])

	next := data[offset+6]
	l4 := offset + ipv6HeaderLen

	// Walk the extension chain to the first transport header. The chain is
	// abandoned, leaving Protocol zero, when it runs past the captured
	// bytes or exceeds maxExtensionHops links.
	for hops := 0; isExtensionHeader(next); hops++ {
		if hops == maxExtensionHops {
			return
		}
		if next == ipv6ExtFragment {
			// Fragment headers are fixed at 8 bytes.
			if l4+8 > len(data) {
				return
			}
			next = data[l4]
			l4 += 8
			continue
		}
		if l4+2 > len(data) {
			return
		}
		extLen := int(data[l4+1])*8 + 8
		next = data[l4]
		l4 += extLen
	}

	ph.Protocol = next
	decodeTransport(data, l4, ph)
}

func isExtensionHeader(proto uint8) bool {
	switch proto {
	case ipv6ExtHopByHop, ipv6ExtRouting, ipv6ExtFragment, ipv6ExtDestOpts:
		return true
	}
	return false
}

func decodeTransport(data []byte, l4 int, ph *model.PacketHeader) {
	switch {
	case ph.IPVersion == 4 && ph.Protocol == model.ProtocolICMP,
		ph.IPVersion == 6 && ph.Protocol == model.ProtocolICMPv6:
		ph.IsICMP = true

	case ph.Protocol == model.ProtocolTCP:
		if l4+tcpMinHeaderLen > len(data) {
			return
		}
		ph.SrcPort = binary.BigEndian.Uint16(data[l4 : l4+2])
		ph.DstPort = binary.BigEndian.Uint16(data[l4+2 : l4+4])
		ph.TCPFlags = data[l4+13]
		if ph.SrcPort == 53 || ph.DstPort == 53 {
			ph.IsDNS = true
		}

	case ph.Protocol == model.ProtocolUDP:
		if l4+udpHeaderLen > len(data) {
			return
		}
		ph.SrcPort = binary.BigEndian.Uint16(data[l4 : l4+2])
		ph.DstPort = binary.BigEndian.Uint16(data[l4+2 : l4+4])
		if ph.SrcPort == 53 || ph.DstPort == 53 || ph.SrcPort == 5353 || ph.DstPort == 5353 {
			ph.IsDNS = true
		}
	}
}
