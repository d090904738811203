package analyzer

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/arashal/flowcap/capture"
	"github.com/arashal/flowcap/flow"
	"github.com/arashal/flowcap/probe"
)

// segment is one packet's transport-layer view: enough to key a flow and
// enough payload bytes to probe or parse.
type segment struct {
	tuple     flow.FiveTuple
	transport probe.Transport
	payload   []byte
}

// extractSegment strips IP and TCP/UDP framing from tp, returning false if
// tp isn't an IPv4/IPv6-over-TCP/UDP packet this build knows how to key a
// flow for.
func extractSegment(tp capture.TaggedPayload) (segment, bool) {
	if tp.Kind != capture.PayloadL3 {
		return segment{}, false
	}

	switch tp.EtherType {
	case 0x0800:
		return extractFromIPv4(tp.Bytes)
	case 0x86dd:
		return extractFromIPv6(tp.Bytes)
	default:
		return segment{}, false
	}
}

func extractFromIPv4(data []byte) (segment, bool) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return segment{}, false
	}
	src, ok1 := netip.AddrFromSlice(ip.SrcIP.To4())
	dst, ok2 := netip.AddrFromSlice(ip.DstIP.To4())
	if !ok1 || !ok2 {
		return segment{}, false
	}
	return extractL4(src, dst, uint8(ip.Protocol), ip.Payload)
}

func extractFromIPv6(data []byte) (segment, bool) {
	var ip layers.IPv6
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return segment{}, false
	}
	src, ok1 := netip.AddrFromSlice(ip.SrcIP.To16())
	dst, ok2 := netip.AddrFromSlice(ip.DstIP.To16())
	if !ok1 || !ok2 {
		return segment{}, false
	}
	return extractL4(src, dst, uint8(ip.NextHeader), ip.Payload)
}

func extractL4(src, dst netip.Addr, proto uint8, payload []byte) (segment, bool) {
	switch proto {
	case 6: // TCP
		var tcp layers.TCP
		if err := tcp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return segment{}, false
		}
		return segment{
			tuple: flow.FiveTuple{
				SrcIP: src, DstIP: dst,
				SrcPort: uint16(tcp.SrcPort), DstPort: uint16(tcp.DstPort),
				Proto: proto,
			},
			transport: probe.TransportTCP,
			payload:   tcp.Payload,
		}, true
	case 17: // UDP
		var udp layers.UDP
		if err := udp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return segment{}, false
		}
		return segment{
			tuple: flow.FiveTuple{
				SrcIP: src, DstIP: dst,
				SrcPort: uint16(udp.SrcPort), DstPort: uint16(udp.DstPort),
				Proto: proto,
			},
			transport: probe.TransportUDP,
			payload:   udp.Payload,
		}, true
	default:
		return segment{}, false
	}
}
