// Package ssh probes for and parses the plaintext SSH version-exchange
// banner that precedes key negotiation, per RFC 4253 section 4.2.
package ssh

import (
	"strings"

	"github.com/arashal/flowcap/parser"
	"github.com/arashal/flowcap/probe"
)

// Name is the protocol name this package registers under.
const Name = "ssh"

const bannerPrefix = "SSH-"

// maxBannerLength_bytes is the longest payload the probe accepts as an SSH
// banner; RFC 4253 caps the banner at 255 bytes.
const maxBannerLength_bytes = 255

// Probe matches the literal "SSH-" prefix every implementation's banner
// starts with. It does not look for the terminating CRLF (or LF); the
// parser extracts the full identification string once a line end arrives.
func Probe(payload []byte, _ probe.L4Info) probe.Result {
	if len(payload) < len(bannerPrefix) {
		return probe.Unsure
	}
	if string(payload[:len(bannerPrefix)]) != bannerPrefix {
		return probe.NotForUs
	}
	if len(payload) > maxBannerLength_bytes {
		return probe.NotForUs
	}
	return probe.Certain
}

// Parser records each side's identification banner once and ignores
// everything after key exchange begins; full transport decryption is out
// of scope.
type Parser struct {
	clientBanner string
	serverBanner string
}

// NewFactory returns the registry factory for this protocol.
func NewFactory() parser.Factory { return factory{} }

type factory struct{}

func (factory) Name() string          { return Name }
func (factory) Build() parser.Parser { return &Parser{} }

func (p *Parser) Parse(payload []byte, dir parser.Direction) parser.Status {
	if (dir == parser.ToServer && p.clientBanner != "") || (dir == parser.ToClient && p.serverBanner != "") {
		// This side's banner is already recorded; what follows is key
		// exchange and encrypted traffic, which is not parsed.
		return parser.Ok
	}
	banner := firstLine(payload)
	if banner == "" {
		// No full banner in this payload; not a failure, just nothing to
		// report yet. Only the handshake's opening payload is inspected
		// elsewhere in the protocol, so there is nothing further to parse.
		return parser.Ok
	}
	if !strings.HasPrefix(banner, bannerPrefix) {
		return parser.Fail
	}

	if dir == parser.ToServer {
		p.clientBanner = banner
	} else {
		p.serverBanner = banner
	}
	return parser.Ok
}

func firstLine(payload []byte) string {
	for i, b := range payload {
		if b == '\n' {
			end := i
			if end > 0 && payload[end-1] == '\r' {
				end--
			}
			return string(payload[:end])
		}
	}
	return ""
}

func (p *Parser) Keys() []string {
	var keys []string
	if p.clientBanner != "" {
		keys = append(keys, "client_banner")
	}
	if p.serverBanner != "" {
		keys = append(keys, "server_banner")
	}
	return keys
}

func (p *Parser) Get(key string) (interface{}, bool) {
	switch key {
	case "client_banner":
		return p.clientBanner, p.clientBanner != ""
	case "server_banner":
		return p.serverBanner, p.serverBanner != ""
	}
	return nil, false
}
