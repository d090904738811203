// Package dns probes for and parses DNS-over-UDP messages.
package dns

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/arashal/flowcap/parser"
	"github.com/arashal/flowcap/probe"
)

// Name is the protocol name this package registers under.
const Name = "dns_udp"

const minMessageLength_bytes = 12 // fixed DNS header size

// Probe decodes payload as a DNS message and sanity-checks the header: a
// real message has a defined opcode and at least one question or answer
// record. A message that merely decodes without tripping any of gopacket's
// internal layer errors but carries no records at all is treated as
// NotForUs rather than Certain, since plenty of other UDP protocols will
// happily "decode" as an empty DNS header by coincidence.
func Probe(payload []byte, _ probe.L4Info) probe.Result {
	if len(payload) < minMessageLength_bytes {
		return probe.Unsure
	}

	var msg layers.DNS
	if err := msg.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return probe.NotForUs
	}
	if msg.OpCode > layers.DNSOpCodeUpdate {
		return probe.NotForUs
	}
	if msg.QDCount == 0 && msg.ANCount == 0 {
		return probe.NotForUs
	}

	if msg.QR {
		return probe.Reverse
	}
	return probe.Certain
}

// Parser records the question name/type of a query and the answer records
// of a response.
type Parser struct {
	queryName string
	queryType string

	answers []Answer
}

// Answer is one resource record from a response message.
type Answer struct {
	Name string
	Type string
	TTL  uint32
	Data string
}

// NewFactory returns the registry factory for this protocol.
func NewFactory() parser.Factory { return factory{} }

type factory struct{}

func (factory) Name() string          { return Name }
func (factory) Build() parser.Parser { return &Parser{} }

func (p *Parser) Parse(payload []byte, dir parser.Direction) parser.Status {
	var msg layers.DNS
	if err := msg.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return parser.Fail
	}

	if dir == parser.ToServer {
		if len(msg.Questions) == 0 {
			return parser.Fail
		}
		p.queryName = string(msg.Questions[0].Name)
		p.queryType = msg.Questions[0].Type.String()
		return parser.Ok
	}

	for _, rr := range msg.Answers {
		p.answers = append(p.answers, Answer{
			Name: string(rr.Name),
			Type: rr.Type.String(),
			TTL:  rr.TTL,
			Data: recordData(rr),
		})
	}
	return parser.Ok
}

func recordData(rr layers.DNSResourceRecord) string {
	switch {
	case rr.IP != nil:
		return rr.IP.String()
	case len(rr.CNAME) > 0:
		return string(rr.CNAME)
	case len(rr.NS) > 0:
		return string(rr.NS)
	case len(rr.PTR) > 0:
		return string(rr.PTR)
	default:
		return ""
	}
}

func (p *Parser) Keys() []string {
	var keys []string
	if p.queryName != "" {
		keys = append(keys, "query_name", "query_type")
	}
	if len(p.answers) > 0 {
		keys = append(keys, "answers")
	}
	return keys
}

func (p *Parser) Get(key string) (interface{}, bool) {
	switch key {
	case "query_name":
		return p.queryName, p.queryName != ""
	case "query_type":
		return p.queryType, p.queryType != ""
	case "answers":
		return p.answers, len(p.answers) > 0
	}
	return nil, false
}
