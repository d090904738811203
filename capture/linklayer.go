package capture

import "github.com/google/gopacket/layers"

// link-type constants, as assigned by the tcpdump link-type registry. Only
// the types the decoder can place a payload for are enumerated; anything
// else falls through to PayloadUnsupported.
const (
	linkTypeEthernet  = uint16(layers.LinkTypeEthernet)
	linkTypeRaw       = uint16(101) // LINKTYPE_RAW
	linkTypeLinuxSLL  = uint16(113) // LINKTYPE_LINUX_SLL
	linkTypeIPv4      = uint16(228)
	linkTypeIPv6      = uint16(229)
)

const (
	etherTypeIPv4 uint16 = 0x0800
	etherTypeIPv6 uint16 = 0x86dd

	sllProtoIPv4 uint16 = 0x0800
	sllProtoIPv6 uint16 = 0x86dd
)

// taggedPayloadForLink strips any link-specific framing the decoder
// understands and tags what's left with the layer an analyzer must resume
// decoding at. It never fails: link types it doesn't recognise, or frames
// too short to hold their own framing, come back as PayloadUnsupported
// rather than as an error, since a single bad frame shouldn't be fatal to
// the run.
func taggedPayloadForLink(linkType uint16, data []byte) TaggedPayload {
	switch linkType {
	case linkTypeEthernet:
		return taggedPayloadForEthernet(data)
	case linkTypeLinuxSLL:
		return taggedPayloadForLinuxSLL(data)
	case linkTypeRaw:
		return taggedPayloadForRawIP(data)
	case linkTypeIPv4:
		return TaggedPayload{Kind: PayloadL3, EtherType: etherTypeIPv4, Bytes: data}
	case linkTypeIPv6:
		return TaggedPayload{Kind: PayloadL3, EtherType: etherTypeIPv6, Bytes: data}
	default:
		return TaggedPayload{Kind: PayloadUnsupported, Bytes: data}
	}
}

// Ethernet II framing: 6-byte dst, 6-byte src, 2-byte EtherType, payload.
// 802.1Q VLAN tags are skipped transparently.
func taggedPayloadForEthernet(data []byte) TaggedPayload {
	if len(data) < 14 {
		return TaggedPayload{Kind: PayloadUnsupported, Bytes: data}
	}
	offset := 12
	etherType := uint16(data[offset])<<8 | uint16(data[offset+1])
	offset += 2

	for etherType == 0x8100 || etherType == 0x88a8 {
		if len(data) < offset+4 {
			return TaggedPayload{Kind: PayloadUnsupported, Bytes: data}
		}
		etherType = uint16(data[offset+2])<<8 | uint16(data[offset+3])
		offset += 4
	}

	return TaggedPayload{Kind: PayloadL3, EtherType: etherType, Bytes: data[offset:]}
}

// Linux "cooked capture" framing: a fixed 16-byte pseudo-header ending in a
// 2-byte protocol field, then the L3 packet.
func taggedPayloadForLinuxSLL(data []byte) TaggedPayload {
	if len(data) < 16 {
		return TaggedPayload{Kind: PayloadUnsupported, Bytes: data}
	}
	proto := uint16(data[14])<<8 | uint16(data[15])
	return TaggedPayload{Kind: PayloadL3, EtherType: proto, Bytes: data[16:]}
}

// Raw IP framing has no link header at all; the IP version nibble tells us
// which EtherType to synthesise.
func taggedPayloadForRawIP(data []byte) TaggedPayload {
	if len(data) < 1 {
		return TaggedPayload{Kind: PayloadUnsupported, Bytes: data}
	}
	version := data[0] >> 4
	switch version {
	case 4:
		return TaggedPayload{Kind: PayloadL3, EtherType: etherTypeIPv4, Bytes: data}
	case 6:
		return TaggedPayload{Kind: PayloadL3, EtherType: etherTypeIPv6, Bytes: data}
	default:
		return TaggedPayload{Kind: PayloadUnsupported, Bytes: data}
	}
}
