// Package capture turns a byte stream holding a classic libpcap or
// block-oriented (pcapng-style) capture into a uniform sequence of
// timestamped packets.
package capture

import "encoding/binary"

// TsResolution describes how a timestamp tick count in an interface's blocks
// must be converted into seconds and fractional microseconds.
type TsResolution struct {
	// Base is 2 or 10.
	Base uint8
	// Exponent such that one tick equals Base^-Exponent seconds.
	Exponent uint8
}

// Microseconds is the resolution synthesised for a legacy (classic pcap)
// file header and for the microsecond-magic variant of the classic format.
var Microseconds = TsResolution{Base: 10, Exponent: 6}

// Nanoseconds is the resolution synthesised for the nanosecond-magic variant
// of the classic format.
var Nanoseconds = TsResolution{Base: 10, Exponent: 9}

// TicksPerSecond returns how many ticks of this resolution make up one
// second.
func (r TsResolution) TicksPerSecond() float64 {
	base := float64(r.Base)
	exp := float64(r.Exponent)
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// InterfaceDescriptor is read-only once appended to a Section's interface
// table.
type InterfaceDescriptor struct {
	LinkType     uint16
	TsOffset     int64
	TsResolution TsResolution
	Snaplen      uint32
}

// Section is a contiguous run of blocks sharing one endianness and one
// interface table. A new section header resets the table.
type Section struct {
	Endianness binary.ByteOrder
	Interfaces []InterfaceDescriptor
}

// PayloadKind tags which layer TaggedPayload.Bytes starts at.
type PayloadKind int

const (
	// PayloadL2 holds a full link-layer frame (e.g. an Ethernet frame).
	PayloadL2 PayloadKind = iota
	// PayloadL3 holds a network-layer packet; EtherType names its protocol.
	PayloadL3
	// PayloadL4 holds a transport-layer segment; Proto is the IP protocol number.
	PayloadL4
	// PayloadUnsupported holds bytes the decoder could not place at any
	// known layer; the analyzer chain sees it verbatim.
	PayloadUnsupported
)

// TaggedPayload is the tagged union of where a packet's analysis must start.
type TaggedPayload struct {
	Kind PayloadKind

	// Valid when Kind == PayloadL3.
	EtherType uint16
	// Valid when Kind == PayloadL4.
	Proto uint8

	Bytes []byte
}

// Timestamp is a packet's capture time normalised to whole seconds plus
// fractional microseconds. Resolutions finer than microseconds are
// truncated; see the decoder's tick conversion for the documented lossy
// behavior.
type Timestamp struct {
	Secs             uint64
	FractionalMicros uint32
}

// Sub returns t-other, saturating at the zero Timestamp on underflow.
func (t Timestamp) Sub(other Timestamp) Timestamp {
	tMicros := t.Secs*1_000_000 + uint64(t.FractionalMicros)
	oMicros := other.Secs*1_000_000 + uint64(other.FractionalMicros)
	if tMicros < oMicros {
		return Timestamp{}
	}
	diff := tMicros - oMicros
	return Timestamp{Secs: diff / 1_000_000, FractionalMicros: uint32(diff % 1_000_000)}
}

// Packet is one decoded record from the capture stream, in the uniform shape
// every downstream analyzer consumes regardless of source format.
type Packet struct {
	InterfaceIndex uint32
	Timestamp      Timestamp
	Data           TaggedPayload
	OriginalLength uint32
	CapturedLength uint32
	// PcapIndex is the 1-based ordinal of this packet across the whole
	// stream; strictly increasing, with no gaps.
	PcapIndex uint64
}

// ParseContext accompanies every Packet handed to the analyzer chain.
type ParseContext struct {
	PcapIndex  uint64
	Interfaces []InterfaceDescriptor
	Endianness binary.ByteOrder

	firstPacketTS *Timestamp
	RelTS         Timestamp
}

// FirstPacketTS reports the timestamp latched from the first packet of the
// run, and whether one has been latched yet.
func (c *ParseContext) FirstPacketTS() (Timestamp, bool) {
	if c.firstPacketTS == nil {
		return Timestamp{}, false
	}
	return *c.firstPacketTS, true
}

func (c *ParseContext) observe(pkt *Packet) {
	c.PcapIndex = pkt.PcapIndex
	if c.firstPacketTS == nil {
		ts := pkt.Timestamp
		c.firstPacketTS = &ts
		c.RelTS = Timestamp{}
		return
	}
	c.RelTS = pkt.Timestamp.Sub(*c.firstPacketTS)
}
