package capture

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// classic pcap magic numbers, as they appear on the wire (before any
// endianness correction).
const (
	magicClassicMicros       uint32 = 0xa1b2c3d4
	magicClassicMicrosSwap   uint32 = 0xd4c3b2a1
	magicClassicNanos        uint32 = 0xa1b23c4d
	magicClassicNanosSwap    uint32 = 0x4d3cb2a1
	magicSectionHeaderBlock  uint32 = 0x0a0d0d0a
	byteOrderMagic           uint32 = 0x1a2b3c4d
)

type streamFormat int

const (
	formatUnknown streamFormat = iota
	formatClassic
	formatBlockOriented
)

// BlockReader is C1: it pulls framed capture blocks off a byte stream,
// handling refill and endianness, and auto-detects classic pcap vs.
// block-oriented framing from the leading magic bytes.
type BlockReader struct {
	r   io.Reader
	buf []byte // unconsumed bytes at the front of the stream

	beforeRefill func()

	format  streamFormat
	order   binary.ByteOrder
	nanosec bool // classic format only

	classicHeaderEmitted bool
	eof                  bool
}

// NewBlockReader constructs a reader pulling from r. The format is detected
// lazily, on the first call to Next.
func NewBlockReader(r io.Reader) *BlockReader {
	return &BlockReader{r: r}
}

// SetBeforeRefill installs a hook invoked immediately before every
// underlying Read call that refills the internal buffer, so downstream
// analyzers can flush internal state between reads.
func (br *BlockReader) SetBeforeRefill(fn func()) {
	br.beforeRefill = fn
}

// fill ensures at least n unconsumed bytes are buffered, reading more from r
// as needed. Returns io.EOF only if the stream ends with no unconsumed bytes
// buffered; if it ends partway through the n bytes, io.ErrUnexpectedEOF.
func (br *BlockReader) fill(n int) error {
	for len(br.buf) < n {
		if br.eof {
			if len(br.buf) > 0 {
				return io.ErrUnexpectedEOF
			}
			return io.EOF
		}
		if br.beforeRefill != nil {
			br.beforeRefill()
		}
		chunk := make([]byte, 4096)
		read, err := br.r.Read(chunk)
		if read > 0 {
			br.buf = append(br.buf, chunk[:read]...)
		}
		if err != nil {
			if err == io.EOF {
				br.eof = true
				continue
			}
			return err
		}
	}
	return nil
}

func (br *BlockReader) take(n int) []byte {
	out := br.buf[:n]
	br.buf = br.buf[n:]
	return out
}

func (br *BlockReader) peek(n int) ([]byte, error) {
	if err := br.fill(n); err != nil {
		return nil, err
	}
	return br.buf[:n], nil
}

// detectFormat consumes no bytes; it only inspects the leading magic.
func (br *BlockReader) detectFormat() error {
	magicBytes, err := br.peek(4)
	if err != nil {
		return err
	}

	beMagic := binary.BigEndian.Uint32(magicBytes)
	leMagic := binary.LittleEndian.Uint32(magicBytes)

	switch {
	case beMagic == magicSectionHeaderBlock:
		br.format = formatBlockOriented
		// Endianness is determined per-section from the Byte-Order-Magic
		// field; defer to the section-header parser.
	case beMagic == magicClassicMicros:
		br.format, br.order, br.nanosec = formatClassic, binary.BigEndian, false
	case beMagic == magicClassicMicrosSwap:
		br.format, br.order, br.nanosec = formatClassic, binary.LittleEndian, false
	case beMagic == magicClassicNanos:
		br.format, br.order, br.nanosec = formatClassic, binary.BigEndian, true
	case beMagic == magicClassicNanosSwap:
		br.format, br.order, br.nanosec = formatClassic, binary.LittleEndian, true
	default:
		_ = leMagic
		return errors.Errorf("unrecognized capture magic % x", magicBytes)
	}
	return nil
}

// Next returns the next block in the stream. It returns io.EOF (wrapped by
// no one; callers compare with errors.Is) when the stream is exhausted
// between blocks - the non-fatal ReaderExhausted condition. Any other
// returned error is fatal and should be surfaced as a MalformedCaptureError
// by the caller, which knows the current pcap_index.
func (br *BlockReader) Next() (Block, error) {
	if br.format == formatUnknown {
		if err := br.detectFormat(); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}

	if br.format == formatClassic {
		return br.nextClassic()
	}
	return br.nextBlockOriented()
}

func (br *BlockReader) nextClassic() (Block, error) {
	if !br.classicHeaderEmitted {
		if err := br.fill(24); err != nil {
			if err == io.EOF {
				return nil, errors.New("truncated classic file header")
			}
			return nil, err
		}
		hdr := br.take(24)
		o := br.order
		linkType := o.Uint32(hdr[20:24])
		snaplen := o.Uint32(hdr[16:20])
		br.classicHeaderEmitted = true
		return LegacyHeaderBlock{LinkType: linkType, Snaplen: snaplen, Nanosec: br.nanosec}, nil
	}

	if err := br.fill(16); err != nil {
		return nil, err
	}
	rec := br.take(16)
	o := br.order
	tsSec := o.Uint32(rec[0:4])
	tsUsec := o.Uint32(rec[4:8])
	capLen := o.Uint32(rec[8:12])
	origLen := o.Uint32(rec[12:16])

	if err := br.fill(int(capLen)); err != nil {
		if err == io.EOF {
			return nil, errors.New("truncated classic packet record")
		}
		return nil, err
	}
	data := br.take(int(capLen))

	return LegacyPacketBlock{
		TsSec: tsSec, TsUsec: tsUsec,
		CapLen: capLen, OrigLen: origLen,
		Data: data,
	}, nil
}
