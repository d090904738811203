// Package http probes for and parses HTTP/1.x request and response
// messages, buffering each side's body through a pooled buffer and
// exporting the finished exchange as a single HAR entry.
package http

import "github.com/arashal/flowcap/probe"

// Name is the protocol name this package registers under.
const Name = "http"

var supportedMethods = []string{
	"GET", "HEAD", "POST", "PUT", "DELETE", "CONNECT", "OPTIONS", "TRACE", "PATCH",
}

const (
	minSupportedMethodLength = len("GET")
	maxHeaderSection_bytes   = 64 * 1024
)

var crlfcrlf = []byte{0x0d, 0x0a, 0x0d, 0x0a}

func isRequestLine(payload []byte) bool {
	for _, m := range supportedMethods {
		if len(payload) <= len(m) {
			continue
		}
		if string(payload[:len(m)]) != m {
			continue
		}
		if payload[len(m)] != ' ' {
			continue
		}
		return true
	}
	return false
}

func isStatusLine(payload []byte) bool {
	for _, v := range []string{"HTTP/1.1 ", "HTTP/1.0 "} {
		if len(payload) < len(v)+3 {
			continue
		}
		if string(payload[:len(v)]) != v {
			continue
		}
		digits := payload[len(v) : len(v)+3]
		allDigits := true
		for _, b := range digits {
			if b < '0' || b > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return true
		}
	}
	return false
}

// Probe matches the start of an HTTP/1.x request or status line. Certain
// covers requests; Reverse covers responses, which by definition travel
// from whichever side the flow considers the server.
func Probe(payload []byte, _ probe.L4Info) probe.Result {
	if len(payload) < minSupportedMethodLength {
		return probe.Unsure
	}
	if isRequestLine(payload) {
		return probe.Certain
	}
	if isStatusLine(payload) {
		return probe.Reverse
	}
	if len(payload) < len("HTTP/1.1 200") {
		return probe.Unsure
	}
	return probe.NotForUs
}
