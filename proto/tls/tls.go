// Package tls probes for and parses TLS 1.2/1.3 handshakes, combining the
// client-hello and server-hello halves of a flow into a single bound
// parser that dispatches on direction.
package tls

const (
	tlsRecordHeaderLength_bytes = 5
	handshakeHeaderLength_bytes = 4
	clientVersionLength_bytes   = 2
	clientRandomLength_bytes    = 32

	minClientHelloLength_bytes = 11
	minServerHelloLength_bytes = 11
)

type extensionID uint16

const (
	serverNameExtensionID      extensionID = 0
	supportedCurvesExtensionID extensionID = 10
	supportedPointsExtensionID extensionID = 11
	alpnExtensionID            extensionID = 16
)

type sniType byte

const dnsHostnameSNIType sniType = 0x00

var clientHelloBytes = []byte{
	0x16, 0x03, 0x01, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00,
	0x03, 0x03,
}

var clientHelloMask = []byte{
	0xff, 0xff, 0xff, 0x00, 0x00,
	0xff, 0x00, 0x00, 0x00,
	0xff, 0xff,
}

var serverHelloBytes = []byte{
	0x16, 0x03, 0x03, 0x00, 0x00,
	0x02, 0x00, 0x00, 0x00,
	0x03, 0x03,
}

var serverHelloMask = []byte{
	0xff, 0xff, 0xff, 0x00, 0x00,
	0xff, 0x00, 0x00, 0x00,
	0xff, 0xff,
}

func matchesMask(payload, want, mask []byte) bool {
	if len(payload) < len(want) {
		return false
	}
	for i := range want {
		if payload[i]&mask[i] != want[i] {
			return false
		}
	}
	return true
}
