package tls

import (
	"io"

	"github.com/arashal/flowcap/memview"
	"github.com/arashal/flowcap/parser"
)

type handshakeState struct {
	buf  memview.MemView
	done bool
}

// Parser accumulates the client and server handshake records of one flow
// independently, since both arrive interleaved on the same connection.
type Parser struct {
	client handshakeState
	server handshakeState

	sni       string
	alpn      []string
	ja3       string
	serverAlpn string
	ja3s      string
}

// NewFactory returns the registry factory for this protocol.
func NewFactory() parser.Factory { return factory{} }

type factory struct{}

func (factory) Name() string          { return Name }
func (factory) Build() parser.Parser { return &Parser{} }

func (p *Parser) Parse(payload []byte, dir parser.Direction) parser.Status {
	if dir == parser.ToServer {
		return p.feed(&p.client, payload, true)
	}
	return p.feed(&p.server, payload, false)
}

func (p *Parser) feed(st *handshakeState, payload []byte, isClient bool) parser.Status {
	if st.done {
		return parser.Ok
	}
	st.buf.Append(memview.New(payload))

	if st.buf.Len() < tlsRecordHeaderLength_bytes {
		return parser.Ok
	}
	handshakeLen := int64(st.buf.GetUint16(tlsRecordHeaderLength_bytes - 2))
	end := int64(tlsRecordHeaderLength_bytes) + handshakeLen
	if st.buf.Len() < end {
		return parser.Ok
	}

	body := st.buf.SubView(tlsRecordHeaderLength_bytes, end)
	if err := p.parseHandshake(body, isClient); err != nil {
		return parser.Fail
	}
	st.done = true
	return parser.Ok
}

func (p *Parser) parseHandshake(body memview.MemView, isClient bool) error {
	reader := body.CreateReader()

	if _, err := reader.Seek(handshakeHeaderLength_bytes, io.SeekStart); err != nil {
		return err
	}
	version, err := reader.ReadUint16()
	if err != nil {
		return err
	}
	if _, err := reader.Seek(clientRandomLength_bytes, io.SeekCurrent); err != nil {
		return err
	}
	if err := reader.ReadByteAndSeek(); err != nil { // session ID
		return err
	}

	var cipherSuites []uint16
	if isClient {
		suiteLen, suiteReader, err := reader.ReadUint16AndTruncate()
		if err != nil {
			return err
		}
		if _, err := reader.Seek(int64(suiteLen), io.SeekCurrent); err != nil {
			return err
		}
		for {
			suite, err := suiteReader.ReadUint16()
			if err != nil {
				break
			}
			cipherSuites = append(cipherSuites, suite)
		}
	} else {
		suite, err := reader.ReadUint16()
		if err != nil {
			return err
		}
		cipherSuites = []uint16{suite}
	}

	if err := reader.ReadByteAndSeek(); err != nil { // compression method(s)
		return err
	}

	_, extReader, err := reader.ReadUint16AndTruncate()
	if err != nil {
		return err
	}

	var alpn []string
	var sni string
	var extensionIDs, curves, points []uint16

	for {
		idVal, err := extReader.ReadUint16()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		extensionIDs = append(extensionIDs, idVal)

		contentLen, contentReader, err := extReader.ReadUint16AndTruncate()
		if err != nil {
			return err
		}
		if _, err := extReader.Seek(int64(contentLen), io.SeekCurrent); err != nil {
			return err
		}

		switch extensionID(idVal) {
		case serverNameExtensionID:
			if name, err := parseServerName(contentReader); err == nil {
				sni = name
			}
		case alpnExtensionID:
			alpn = parseALPN(contentReader)
		case supportedCurvesExtensionID:
			curves = parseUint16List(contentReader)
		case supportedPointsExtensionID:
			points = parseByteList(contentReader)
		}
	}

	if isClient {
		p.sni = sni
		p.alpn = alpn
		p.ja3 = computeJA3(version, cipherSuites, extensionIDs, curves, points)
	} else {
		p.serverAlpn = firstOrEmpty(alpn)
		p.ja3s = computeJA3S(version, cipherSuites[0], extensionIDs)
	}
	return nil
}

func parseUint16List(reader *memview.MemViewReader) []uint16 {
	_, listReader, err := reader.ReadUint16AndTruncate()
	if err != nil {
		return nil
	}
	var out []uint16
	for {
		v, err := listReader.ReadUint16()
		if err != nil {
			return out
		}
		out = append(out, v)
	}
}

func parseByteList(reader *memview.MemViewReader) []uint16 {
	length, err := reader.ReadByte()
	if err != nil {
		return nil
	}
	var out []uint16
	for i := 0; i < int(length); i++ {
		b, err := reader.ReadByte()
		if err != nil {
			return out
		}
		out = append(out, uint16(b))
	}
	return out
}

func parseServerName(reader *memview.MemViewReader) (string, error) {
	for {
		entryLen, entryReader, err := reader.ReadUint16AndTruncate()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", err
		}
		if _, err := reader.Seek(int64(entryLen), io.SeekCurrent); err != nil {
			return "", err
		}

		entryType, err := entryReader.ReadByte()
		if err != nil {
			return "", err
		}
		if sniType(entryType) == dnsHostnameSNIType {
			return entryReader.ReadString_uint16()
		}
	}
	return "", io.EOF
}

func parseALPN(reader *memview.MemViewReader) []string {
	var out []string
	_, listReader, err := reader.ReadUint16AndTruncate()
	if err != nil {
		return out
	}
	for {
		proto, err := listReader.ReadString_byte()
		if err != nil {
			return out
		}
		out = append(out, proto)
	}
}

func firstOrEmpty(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (p *Parser) Keys() []string {
	var keys []string
	if p.sni != "" {
		keys = append(keys, "sni")
	}
	if len(p.alpn) > 0 {
		keys = append(keys, "alpn")
	}
	if p.ja3 != "" {
		keys = append(keys, "ja3")
	}
	if p.serverAlpn != "" {
		keys = append(keys, "server_alpn")
	}
	if p.ja3s != "" {
		keys = append(keys, "ja3s")
	}
	return keys
}

func (p *Parser) Get(key string) (interface{}, bool) {
	switch key {
	case "sni":
		return p.sni, p.sni != ""
	case "alpn":
		return p.alpn, len(p.alpn) > 0
	case "ja3":
		return p.ja3, p.ja3 != ""
	case "server_alpn":
		return p.serverAlpn, p.serverAlpn != ""
	case "ja3s":
		return p.ja3s, p.ja3s != ""
	}
	return nil, false
}
