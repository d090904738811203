package analyzer

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arashal/flowcap/capture"
	"github.com/arashal/flowcap/probe"
)

func ipv4Packet(proto uint8, src, dst string, l4 []byte) []byte {
	hdr := make([]byte, 20)
	hdr[0] = 0x45
	binary.BigEndian.PutUint16(hdr[2:4], uint16(20+len(l4)))
	hdr[8] = 64
	hdr[9] = proto
	copy(hdr[12:16], net.ParseIP(src).To4())
	copy(hdr[16:20], net.ParseIP(dst).To4())
	return append(hdr, l4...)
}

func ipv6Packet(nextHeader uint8, src, dst string, l4 []byte) []byte {
	hdr := make([]byte, 40)
	hdr[0] = 0x60
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(l4)))
	hdr[6] = nextHeader
	hdr[7] = 64
	copy(hdr[8:24], net.ParseIP(src).To16())
	copy(hdr[24:40], net.ParseIP(dst).To16())
	return append(hdr, l4...)
}

func tcpSegment(srcPort, dstPort uint16, payload []byte) []byte {
	hdr := make([]byte, 20)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	hdr[12] = 5 << 4 // data offset: 5 words, no options
	binary.BigEndian.PutUint16(hdr[14:16], 65535)
	return append(hdr, payload...)
}

func udpSegment(srcPort, dstPort uint16, payload []byte) []byte {
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(8+len(payload)))
	return append(hdr, payload...)
}

func TestExtractSegmentFromIPv4TCP(t *testing.T) {
	tcp := tcpSegment(1000, 443, []byte("hello"))
	ip := ipv4Packet(6, "10.0.0.1", "10.0.0.2", tcp)

	tp := capture.TaggedPayload{Kind: capture.PayloadL3, EtherType: 0x0800, Bytes: ip}
	seg, ok := extractSegment(tp)
	require.True(t, ok)
	assert.Equal(t, probe.TransportTCP, seg.transport)
	assert.Equal(t, []byte("hello"), seg.payload)
	assert.Equal(t, uint16(1000), seg.tuple.SrcPort)
	assert.Equal(t, uint16(443), seg.tuple.DstPort)
	assert.Equal(t, uint8(6), seg.tuple.Proto)
	assert.Equal(t, "10.0.0.1", seg.tuple.SrcIP.String())
	assert.Equal(t, "10.0.0.2", seg.tuple.DstIP.String())
}

func TestExtractSegmentFromIPv4UDP(t *testing.T) {
	udp := udpSegment(53000, 53, []byte("query"))
	ip := ipv4Packet(17, "10.0.0.1", "8.8.8.8", udp)

	tp := capture.TaggedPayload{Kind: capture.PayloadL3, EtherType: 0x0800, Bytes: ip}
	seg, ok := extractSegment(tp)
	require.True(t, ok)
	assert.Equal(t, probe.TransportUDP, seg.transport)
	assert.Equal(t, []byte("query"), seg.payload)
}

func TestExtractSegmentFromIPv6TCP(t *testing.T) {
	tcp := tcpSegment(1000, 443, []byte("hi"))
	ip := ipv6Packet(6, "2001:db8::1", "2001:db8::2", tcp)

	tp := capture.TaggedPayload{Kind: capture.PayloadL3, EtherType: 0x86dd, Bytes: ip}
	seg, ok := extractSegment(tp)
	require.True(t, ok)
	assert.Equal(t, "2001:db8::1", seg.tuple.SrcIP.String())
	assert.Equal(t, "2001:db8::2", seg.tuple.DstIP.String())
}

func TestExtractSegmentRejectsNonL3Payload(t *testing.T) {
	tp := capture.TaggedPayload{Kind: capture.PayloadUnsupported, Bytes: []byte("whatever")}
	_, ok := extractSegment(tp)
	assert.False(t, ok)
}

func TestExtractSegmentRejectsUnknownEtherType(t *testing.T) {
	tp := capture.TaggedPayload{Kind: capture.PayloadL3, EtherType: 0x8847, Bytes: []byte{0x01, 0x02}}
	_, ok := extractSegment(tp)
	assert.False(t, ok)
}

func TestExtractSegmentRejectsUnknownL4Protocol(t *testing.T) {
	ip := ipv4Packet(1, "10.0.0.1", "10.0.0.2", []byte{0x08, 0x00, 0x00, 0x00}) // ICMP, unsupported
	tp := capture.TaggedPayload{Kind: capture.PayloadL3, EtherType: 0x0800, Bytes: ip}
	_, ok := extractSegment(tp)
	assert.False(t, ok)
}

func TestExtractSegmentRejectsTruncatedIPv4Header(t *testing.T) {
	tp := capture.TaggedPayload{Kind: capture.PayloadL3, EtherType: 0x0800, Bytes: []byte{0x45, 0x00}}
	_, ok := extractSegment(tp)
	assert.False(t, ok)
}
