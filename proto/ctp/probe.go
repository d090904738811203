package ctp

import (
	"bytes"

	"github.com/arashal/flowcap/probe"
)

var crlf = []byte{0x0d, 0x0a}

// Probe matches a request line against the known FTP/SMTP command set, or
// a response line against the "<digit 1-5><digit 0-5><digit><sep>" status
// code shape, in both cases requiring a terminating CRLF.
func Probe(payload []byte, _ probe.L4Info) probe.Result {
	if int64(len(payload)) < minCommandLineLength_bytes {
		return probe.Unsure
	}
	if !hasCRLFSuffix(payload) {
		return probe.Unsure
	}

	if i := bytes.IndexByte(payload, ' '); i != -1 {
		if isKnownCommand(payload[:i]) {
			return probe.Certain
		}
	} else if isKnownCommand(payload[:len(payload)-2]) {
		return probe.Certain
	}

	if isResponseLine(payload) {
		return probe.Reverse
	}

	return probe.NotForUs
}

func hasCRLFSuffix(payload []byte) bool {
	return len(payload) >= 2 && bytes.Equal(payload[len(payload)-2:], crlf)
}

// isResponseLine checks the three-digit status code shape used by both FTP
// (RFC 959) and SMTP (RFC 5321) replies: first digit 1-5, second digit
// 0-5, third digit 0-9, then a space or dash separator.
func isResponseLine(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	if payload[0] < 0x31 || payload[0] > 0x35 {
		return false
	}
	if payload[1] < 0x30 || payload[1] > 0x35 {
		return false
	}
	if payload[2] < 0x30 || payload[2] > 0x39 {
		return false
	}
	return payload[3] == 0x20 || payload[3] == 0x2d
}
