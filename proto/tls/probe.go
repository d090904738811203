package tls

import "github.com/arashal/flowcap/probe"

// Name is the protocol name this package registers under.
const Name = "tls"

// Probe matches the fixed byte pattern at the start of a TLS 1.2/1.3
// ClientHello or ServerHello record. A ClientHello match is Certain (the
// payload direction is assumed to be toward the server); a ServerHello
// match is Reverse (this payload travelled from what the flow considers
// the server, confirming that role rather than contradicting it).
func Probe(payload []byte, _ probe.L4Info) probe.Result {
	if matchesMask(payload, clientHelloBytes, clientHelloMask) {
		return probe.Certain
	}
	if matchesMask(payload, serverHelloBytes, serverHelloMask) {
		return probe.Reverse
	}
	if len(payload) < minClientHelloLength_bytes {
		return probe.Unsure
	}
	return probe.NotForUs
}
