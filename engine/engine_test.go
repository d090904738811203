package engine

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- L2/L3/L4 fixture helpers -----------------------------------------

func ethernetFrame(etherType uint16, payload []byte) []byte {
	frame := make([]byte, 14)
	binary.BigEndian.PutUint16(frame[12:14], etherType)
	return append(frame, payload...)
}

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

func tcpSegment(srcPort, dstPort uint16, payload []byte) []byte {
	hdr := make([]byte, 20)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	hdr[12] = 5 << 4
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

// --- classic pcap container helpers ------------------------------------

func classicHeader(linkType, snaplen uint32) []byte {
	hdr := make([]byte, 24)
	binary.BigEndian.PutUint32(hdr[0:4], 0xa1b2c3d4)
	binary.BigEndian.PutUint16(hdr[4:6], 2)
	binary.BigEndian.PutUint16(hdr[6:8], 4)
	binary.BigEndian.PutUint32(hdr[16:20], snaplen)
	binary.BigEndian.PutUint32(hdr[20:24], linkType)
	return hdr
}

func classicRecord(tsSec, tsUsec uint32, data []byte) []byte {
	rec := make([]byte, 16)
	binary.BigEndian.PutUint32(rec[0:4], tsSec)
	binary.BigEndian.PutUint32(rec[4:8], tsUsec)
	binary.BigEndian.PutUint32(rec[8:12], uint32(len(data)))
	binary.BigEndian.PutUint32(rec[12:16], uint32(len(data)))
	return append(rec, data...)
}

// --- pcapng (block-oriented) container helpers --------------------------

func pcapngBlock(blockType uint32, body []byte) []byte {
	totalLen := uint32(8 + len(body) + 4)
	block := make([]byte, 0, totalLen)
	head := make([]byte, 8)
	binary.BigEndian.PutUint32(head[0:4], blockType)
	binary.BigEndian.PutUint32(head[4:8], totalLen)
	block = append(block, head...)
	block = append(block, body...)
	tail := make([]byte, 4)
	binary.BigEndian.PutUint32(tail, totalLen)
	return append(block, tail...)
}

func pcapngSectionHeader() []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint32(body[0:4], 0x1a2b3c4d)
	binary.BigEndian.PutUint16(body[4:6], 1)
	for i := range body[8:16] {
		body[8+i] = 0xff
	}
	return pcapngBlock(0x0a0d0d0a, body)
}

func pcapngIDB(linkType uint16, snaplen uint32) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint16(body[0:2], linkType)
	binary.BigEndian.PutUint32(body[4:8], snaplen)
	return pcapngBlock(0x00000001, body)
}

func pcapngEPB(ifID uint32, tsHigh, tsLow uint32, data []byte) []byte {
	body := make([]byte, 20+len(data))
	binary.BigEndian.PutUint32(body[0:4], ifID)
	binary.BigEndian.PutUint32(body[4:8], tsHigh)
	binary.BigEndian.PutUint32(body[8:12], tsLow)
	binary.BigEndian.PutUint32(body[12:16], uint32(len(data)))
	binary.BigEndian.PutUint32(body[16:20], uint32(len(data)))
	copy(body[20:], data)
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	return pcapngBlock(0x00000006, body)
}

// --- DNS message fixture --------------------------------------------------

func dnsQuery(id uint16, qname string) []byte {
	var buf bytes.Buffer
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint16(hdr[0:2], id)
	binary.BigEndian.PutUint16(hdr[4:6], 1) // QDCOUNT
	buf.Write(hdr)
	writeDNSName(&buf, qname)
	binary.Write(&buf, binary.BigEndian, uint16(1)) // QTYPE A
	binary.Write(&buf, binary.BigEndian, uint16(1)) // QCLASS IN
	return buf.Bytes()
}

func dnsResponse(id uint16, qname string, ip net.IP) []byte {
	var buf bytes.Buffer
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint16(hdr[0:2], id)
	hdr[2] = 0x81 // QR=1, opcode=0, recursion desired
	hdr[3] = 0x80
	binary.BigEndian.PutUint16(hdr[4:6], 1) // QDCOUNT
	binary.BigEndian.PutUint16(hdr[6:8], 1) // ANCOUNT
	buf.Write(hdr)
	writeDNSName(&buf, qname)
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint16(1))

	// answer: name (pointer to offset 12), type A, class IN, TTL, rdlength, rdata
	buf.Write([]byte{0xc0, 0x0c})
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint32(300))
	binary.Write(&buf, binary.BigEndian, uint16(4))
	buf.Write(ip.To4())
	return buf.Bytes()
}

func writeDNSName(buf *bytes.Buffer, name string) {
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			buf.WriteByte(byte(len(label)))
			buf.WriteString(label)
			start = i + 1
		}
	}
	buf.WriteByte(0)
}

// --- TLS ClientHello fixture ----------------------------------------------

func tlsClientHelloWithSNI(hostname string) []byte {
	var ext bytes.Buffer
	// server_name extension (type 0)
	var sniEntry bytes.Buffer
	sniEntry.WriteByte(0x00) // hostname entry type
	binary.Write(&sniEntry, binary.BigEndian, uint16(len(hostname)))
	sniEntry.WriteString(hostname)

	var sniBody bytes.Buffer
	binary.Write(&sniBody, binary.BigEndian, uint16(sniEntry.Len()))
	sniBody.Write(sniEntry.Bytes())

	binary.Write(&ext, binary.BigEndian, uint16(0)) // extension type: server_name
	binary.Write(&ext, binary.BigEndian, uint16(sniBody.Len()))
	ext.Write(sniBody.Bytes())

	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint16(0x0303)) // client_version TLS1.2
	body.Write(bytes.Repeat([]byte{0xAA}, 32))             // random
	body.WriteByte(0x00)                                   // session_id length

	cipherSuites := []byte{0x13, 0x01, 0xc0, 0x2f}
	binary.Write(&body, binary.BigEndian, uint16(len(cipherSuites)))
	body.Write(cipherSuites)

	body.WriteByte(0x01) // compression methods length
	body.WriteByte(0x00) // null compression

	binary.Write(&body, binary.BigEndian, uint16(ext.Len()))
	body.Write(ext.Bytes())

	var handshake bytes.Buffer
	handshake.WriteByte(0x01) // ClientHello
	handshakeLen := body.Len()
	handshake.Write([]byte{byte(handshakeLen >> 16), byte(handshakeLen >> 8), byte(handshakeLen)})
	handshake.Write(body.Bytes())

	var record bytes.Buffer
	record.WriteByte(0x16) // handshake content type
	binary.Write(&record, binary.BigEndian, uint16(0x0301))
	binary.Write(&record, binary.BigEndian, uint16(handshake.Len()))
	record.Write(handshake.Bytes())
	return record.Bytes()
}

// --- scenarios --------------------------------------------------------

func TestEngineClassicPcapDNSQueryAndResponse(t *testing.T) {
	query := udpSegment(53000, 53, dnsQuery(0x1234, "example.com"))
	queryIP := ipv4Packet(17, "10.0.0.5", "8.8.8.8", query)
	queryFrame := ethernetFrame(0x0800, queryIP)

	resp := udpSegment(53, 53000, dnsResponse(0x1234, "example.com", net.ParseIP("93.184.216.34")))
	respIP := ipv4Packet(17, "8.8.8.8", "10.0.0.5", resp)
	respFrame := ethernetFrame(0x0800, respIP)

	var buf bytes.Buffer
	buf.Write(classicHeader(1, 65535))
	buf.Write(classicRecord(1000, 0, queryFrame))
	buf.Write(classicRecord(1000, 100, respFrame))

	e := New()
	require.NoError(t, e.Run(&buf))

	protoID := e.Flows()
	require.NotNil(t, protoID)
	assert.Equal(t, 1, protoID.Flows().Len())

	bound, ok := protoID.Parser(1)
	require.True(t, ok)
	assert.Equal(t, "dns_udp", bound.Name)

	name, found := bound.Parser.Get("query_name")
	require.True(t, found)
	assert.Contains(t, name.(string), "example")

	answers, found := bound.Parser.Get("answers")
	require.True(t, found)
	assert.NotEmpty(t, answers)
}

func TestEngineBlockOrientedTLSClientHelloWithSNI(t *testing.T) {
	hello := tlsClientHelloWithSNI("example.com")
	tcp := tcpSegment(50000, 443, hello)
	ip := ipv4Packet(6, "10.0.0.9", "93.184.216.34", tcp)
	frame := ethernetFrame(0x0800, ip)

	var buf bytes.Buffer
	buf.Write(pcapngSectionHeader())
	buf.Write(pcapngIDB(1, 65535))
	buf.Write(pcapngEPB(0, 0, 1_000_000, frame))

	e := New()
	require.NoError(t, e.Run(&buf))

	bound, ok := e.Flows().Parser(1)
	require.True(t, ok)
	assert.Equal(t, "tls", bound.Name)

	sni, found := bound.Parser.Get("sni")
	require.True(t, found)
	assert.Equal(t, "example.com", sni)

	ja3, found := bound.Parser.Get("ja3")
	require.True(t, found)
	assert.NotEmpty(t, ja3)
}

func TestEngineSSHBannerOnUnusualPort(t *testing.T) {
	banner := []byte("SSH-2.0-OpenSSH_8.9\r\n")
	tcp := tcpSegment(40000, 2222, banner)
	ip := ipv4Packet(6, "10.0.0.7", "10.0.0.8", tcp)
	frame := ethernetFrame(0x0800, ip)

	var buf bytes.Buffer
	buf.Write(classicHeader(1, 65535))
	buf.Write(classicRecord(2000, 0, frame))

	e := New()
	require.NoError(t, e.Run(&buf))

	bound, ok := e.Flows().Parser(1)
	require.True(t, ok)
	assert.Equal(t, "ssh", bound.Name)

	client, found := bound.Parser.Get("client_banner")
	require.True(t, found)
	assert.Equal(t, "SSH-2.0-OpenSSH_8.9", client)
}

func TestEngineAmbiguousUDPPayloadStaysUnboundUntilProbeResolvesOrIdlesOut(t *testing.T) {
	// A single short UDP datagram that is too short for the DNS probe to
	// reach a verdict stays Unsure; with no second datagram to carry the
	// candidate list forward, the flow is simply never bound, and the
	// run still completes cleanly.
	tooShort := udpSegment(9000, 9001, []byte{0x01, 0x02})
	ip := ipv4Packet(17, "10.0.0.1", "10.0.0.2", tooShort)
	frame := ethernetFrame(0x0800, ip)

	var buf bytes.Buffer
	buf.Write(classicHeader(1, 65535))
	buf.Write(classicRecord(3000, 0, frame))

	e := New()
	require.NoError(t, e.Run(&buf))

	_, ok := e.Flows().Parser(1)
	assert.False(t, ok)
	assert.Equal(t, 1, e.Flows().Flows().Len(), "the flow still exists, just unbound, since idle eviction is disabled by default")
}

func TestEngineOptionsOverrideDefaults(t *testing.T) {
	e := New(WithIdleFlowTimeout(0), WithMaxCandidateListSize(1))
	assert.Equal(t, time.Duration(0), e.opts.IdleFlowTimeout)
	assert.Equal(t, 1, e.opts.MaxCandidateListSize)
}

func TestEngineRunIDIsStableAcrossRuns(t *testing.T) {
	e := New()
	id := e.RunID()

	var buf bytes.Buffer
	buf.Write(classicHeader(1, 65535))
	require.NoError(t, e.Run(&buf))

	assert.Equal(t, id, e.RunID())
}

func TestEngineRegistryHasDefaultTLSFactory(t *testing.T) {
	e := New()
	_, ok := e.Registry().Get("tls")
	assert.True(t, ok)
}

