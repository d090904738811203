package capture

import (
	"encoding/binary"
	"io"
)

// Decoder is C2: it pulls Blocks from a BlockReader and turns them into the
// uniform Packet shape, tracking the interface table and endianness of the
// current section and normalising every interface's tick count to a
// Timestamp.
type Decoder struct {
	reader *BlockReader

	interfaces []InterfaceDescriptor
	endianness binary.ByteOrder

	// classic format synthesises interface 0 from the file header; there is
	// no interface description block to carry it.
	classicInterface InterfaceDescriptor
	haveClassic      bool

	ctx       *ParseContext
	pcapIndex uint64

	// OnSkippedBlock, if set, is invoked for blocks the decoder recognises
	// but carries no packet data for (interface statistics, name
	// resolution, unknown block types). Left nil, these are silently
	// dropped.
	OnSkippedBlock func(kind BlockKind)
}

// NewDecoder wraps r, which must not have had Next called on it yet.
func NewDecoder(r *BlockReader) *Decoder {
	return &Decoder{reader: r, ctx: &ParseContext{}}
}

// Context returns the ParseContext accompanying the most recently returned
// Packet.
func (d *Decoder) Context() *ParseContext { return d.ctx }

// Next returns the next packet in the stream. It returns io.EOF when the
// stream ends cleanly between packets. Any other error is fatal and is
// already a *MalformedCaptureError.
func (d *Decoder) Next() (*Packet, error) {
	for {
		block, err := d.reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, malformed(d.pcapIndex+1, err)
		}

		switch b := block.(type) {
		case LegacyHeaderBlock:
			res := Microseconds
			if b.Nanosec {
				res = Nanoseconds
			}
			d.classicInterface = InterfaceDescriptor{
				LinkType:     uint16(b.LinkType),
				TsResolution: res,
				Snaplen:      b.Snaplen,
			}
			d.haveClassic = true
			continue

		case LegacyPacketBlock:
			if !d.haveClassic {
				panic("capture: classic packet record before file header")
			}
			ticks := uint64(b.TsSec)*uint64(d.classicInterface.TsResolution.TicksPerSecond()) + uint64(b.TsUsec)
			ts := ticksToTimestamp(ticks, d.classicInterface.TsResolution, 0)
			return d.emit(0, d.classicInterface, ts, b.Data, b.CapLen, b.OrigLen), nil

		case SectionBlock:
			d.interfaces = nil
			if b.BigEndian {
				d.endianness = binary.BigEndian
			} else {
				d.endianness = binary.LittleEndian
			}
			continue

		case InterfaceDescriptionBlock:
			res := b.TsResolution
			if res.Base == 0 {
				res = Microseconds
			}
			d.interfaces = append(d.interfaces, InterfaceDescriptor{
				LinkType:     b.LinkType,
				TsOffset:     b.TsOffset,
				TsResolution: res,
				Snaplen:      b.Snaplen,
			})
			continue

		case EnhancedPacketBlock:
			if int(b.InterfaceID) >= len(d.interfaces) {
				panic("capture: enhanced packet block references undeclared interface")
			}
			iface := d.interfaces[b.InterfaceID]
			ticks := uint64(b.TsHigh)<<32 | uint64(b.TsLow)
			ts := ticksToTimestamp(ticks, iface.TsResolution, iface.TsOffset)
			return d.emit(b.InterfaceID, iface, ts, b.Data, b.CapLen, b.OrigLen), nil

		case SimplePacketBlock:
			var iface InterfaceDescriptor
			if len(d.interfaces) > 0 {
				iface = d.interfaces[0]
			} else {
				iface.TsResolution = Microseconds
			}
			return d.emit(0, iface, Timestamp{}, b.Data, uint32(len(b.Data)), b.OrigLen), nil

		case InterfaceStatisticsBlock:
			d.skipped(BlockInterfaceStatistics)
			continue
		case NameResolutionBlock:
			d.skipped(BlockNameResolution)
			continue
		case UnknownBlock:
			d.skipped(BlockUnknown)
			continue
		}
	}
}

func (d *Decoder) skipped(kind BlockKind) {
	if d.OnSkippedBlock != nil {
		d.OnSkippedBlock(kind)
	}
}

func (d *Decoder) emit(ifIndex uint32, iface InterfaceDescriptor, ts Timestamp, data []byte, capLen, origLen uint32) *Packet {
	d.pcapIndex++
	pkt := &Packet{
		InterfaceIndex: ifIndex,
		Timestamp:      ts,
		Data:           taggedPayloadForLink(iface.LinkType, data),
		OriginalLength: origLen,
		CapturedLength: capLen,
		PcapIndex:      d.pcapIndex,
	}
	d.ctx.Interfaces = d.interfaces
	d.ctx.Endianness = d.endianness
	d.ctx.observe(pkt)
	return pkt
}

// ticksToTimestamp converts a raw tick count at the given resolution,
// shifted by tsOffset seconds, into a Timestamp. Resolutions finer than
// microseconds are truncated, not rounded; this is the one place capture
// time loses precision.
func ticksToTimestamp(ticks uint64, res TsResolution, tsOffset int64) Timestamp {
	perSec := uint64(res.TicksPerSecond())
	if perSec == 0 {
		perSec = 1
	}
	secs := ticks/perSec + uint64(tsOffset)
	remainder := ticks % perSec
	fracMicros := remainder * 1_000_000 / perSec
	return Timestamp{Secs: secs, FractionalMicros: uint32(fracMicros)}
}
