package tls

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

const (
	dashByte  = byte('-')
	commaByte = byte(',')
)

// computeJA3 renders the salesforce/ja3 fingerprint string for a ClientHello
// and returns its MD5 hex digest.
func computeJA3(version uint16, cipherSuites, extensionIDs, curves, points []uint16) string {
	var b []byte
	b = strconv.AppendUint(b, uint64(version), 10)
	b = append(b, commaByte)
	b = appendDashList(b, cipherSuites)
	b = appendDashList(b, extensionIDs)
	b = appendDashList(b, curves)
	b = appendDashListNoTrailingComma(b, points)

	h := md5.Sum(b)
	return hex.EncodeToString(h[:])
}

// computeJA3S renders the JA3S fingerprint string for a ServerHello.
func computeJA3S(version, cipherSuite uint16, extensionIDs []uint16) string {
	var b []byte
	b = strconv.AppendUint(b, uint64(version), 10)
	b = append(b, commaByte)
	b = strconv.AppendUint(b, uint64(cipherSuite), 10)
	b = append(b, commaByte)
	b = appendDashListNoTrailingComma(b, extensionIDs)

	h := md5.Sum(b)
	return hex.EncodeToString(h[:])
}

func appendDashList(b []byte, vals []uint16) []byte {
	if len(vals) == 0 {
		return append(b, commaByte)
	}
	for _, v := range vals {
		b = strconv.AppendUint(b, uint64(v), 10)
		b = append(b, dashByte)
	}
	b[len(b)-1] = commaByte
	return b
}

func appendDashListNoTrailingComma(b []byte, vals []uint16) []byte {
	for _, v := range vals {
		b = strconv.AppendUint(b, uint64(v), 10)
		b = append(b, dashByte)
	}
	if len(b) > 0 && b[len(b)-1] == dashByte {
		b = b[:len(b)-1]
	}
	return b
}
