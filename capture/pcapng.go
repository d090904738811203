package capture

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var sectionMagicBytes = []byte{0x0a, 0x0d, 0x0d, 0x0a}
var bomBigEndian = []byte{0x1a, 0x2b, 0x3c, 0x4d}
var bomLittleEndian = []byte{0x4d, 0x3c, 0x2b, 0x1a}

const (
	blockTypeIDB uint32 = 0x00000001
	blockTypeSPB uint32 = 0x00000003
	blockTypeNRB uint32 = 0x00000004
	blockTypeISB uint32 = 0x00000005
	blockTypeEPB uint32 = 0x00000006

	optEndOfOpt      uint16 = 0
	optIfTsResol     uint16 = 9
	optIfTsOffset    uint16 = 14
)

func (br *BlockReader) nextBlockOriented() (Block, error) {
	typeBytes, err := br.peek(4)
	if err != nil {
		return nil, err
	}

	if bytes.Equal(typeBytes, sectionMagicBytes) {
		return br.readSectionHeader()
	}

	if br.order == nil {
		return nil, errors.New("block-oriented stream does not start with a section header")
	}

	if err := br.fill(8); err != nil {
		if err == io.EOF {
			return nil, errors.New("truncated block header")
		}
		return nil, err
	}
	blockType := br.order.Uint32(br.buf[0:4])
	totalLen := br.order.Uint32(br.buf[4:8])
	if totalLen < 12 {
		return nil, errors.Errorf("invalid block length %d", totalLen)
	}

	if err := br.fill(int(totalLen)); err != nil {
		if err == io.EOF {
			return nil, errors.New("truncated block body")
		}
		return nil, err
	}
	block := br.take(int(totalLen))
	body := block[8 : len(block)-4]

	switch blockType {
	case blockTypeIDB:
		return br.parseIDB(body)
	case blockTypeEPB:
		return br.parseEPB(body)
	case blockTypeSPB:
		return br.parseSPB(body)
	case blockTypeISB:
		return InterfaceStatisticsBlock{}, nil
	case blockTypeNRB:
		return NameResolutionBlock{}, nil
	default:
		return UnknownBlock{Code: blockType, Bytes: body}, nil
	}
}

func (br *BlockReader) readSectionHeader() (Block, error) {
	if err := br.fill(12); err != nil {
		if err == io.EOF {
			return nil, errors.New("truncated section header block")
		}
		return nil, err
	}
	bom := br.buf[8:12]

	var order binary.ByteOrder
	switch {
	case bytes.Equal(bom, bomBigEndian):
		order = binary.BigEndian
	case bytes.Equal(bom, bomLittleEndian):
		order = binary.LittleEndian
	default:
		return nil, errors.Errorf("unrecognized byte-order magic % x", bom)
	}

	totalLen := order.Uint32(br.buf[4:8])
	if totalLen < 28 {
		return nil, errors.Errorf("invalid section header block length %d", totalLen)
	}

	if err := br.fill(int(totalLen)); err != nil {
		if err == io.EOF {
			return nil, errors.New("truncated section header block")
		}
		return nil, err
	}
	br.take(int(totalLen))

	br.order = order
	return SectionBlock{BigEndian: order == binary.BigEndian}, nil
}

func (br *BlockReader) parseIDB(body []byte) (Block, error) {
	if len(body) < 8 {
		return nil, errors.New("truncated interface description block")
	}
	order := br.order
	linkType := order.Uint16(body[0:2])
	snaplen := order.Uint32(body[4:8])

	idb := InterfaceDescriptionBlock{
		LinkType:     linkType,
		Snaplen:      snaplen,
		TsResolution: Microseconds,
	}

	forEachOption(order, body[8:], func(code uint16, value []byte) {
		switch code {
		case optIfTsOffset:
			if len(value) >= 8 {
				idb.TsOffset = int64(order.Uint64(value[0:8]))
			}
		case optIfTsResol:
			if len(value) >= 1 {
				idb.TsResolution = decodeTsResol(value[0])
			}
		}
	})

	return idb, nil
}

// decodeTsResol interprets if_tsresol's high bit (base-2 vs base-10) and low
// 7 bits (exponent), per the block-oriented format's option encoding.
func decodeTsResol(b byte) TsResolution {
	if b&0x80 != 0 {
		return TsResolution{Base: 2, Exponent: b &^ 0x80}
	}
	return TsResolution{Base: 10, Exponent: b}
}

func (br *BlockReader) parseEPB(body []byte) (Block, error) {
	if len(body) < 20 {
		return nil, errors.New("truncated enhanced packet block")
	}
	order := br.order
	ifID := order.Uint32(body[0:4])
	tsHigh := order.Uint32(body[4:8])
	tsLow := order.Uint32(body[8:12])
	capLen := order.Uint32(body[12:16])
	origLen := order.Uint32(body[16:20])

	if uint64(20)+uint64(capLen) > uint64(len(body)) {
		return nil, errors.New("truncated enhanced packet block payload")
	}
	data := body[20 : 20+capLen]

	return EnhancedPacketBlock{
		InterfaceID: ifID,
		TsHigh:      tsHigh,
		TsLow:       tsLow,
		CapLen:      capLen,
		OrigLen:     origLen,
		Data:        data,
	}, nil
}

func (br *BlockReader) parseSPB(body []byte) (Block, error) {
	if len(body) < 4 {
		return nil, errors.New("truncated simple packet block")
	}
	order := br.order
	origLen := order.Uint32(body[0:4])
	data := body[4:]

	return SimplePacketBlock{OrigLen: origLen, Data: data}, nil
}

// forEachOption walks a block's option TLV list, invoking fn for each
// option until opt_endofopt or the buffer is exhausted. Values are padded
// to a 4-byte boundary; fn receives the unpadded value.
func forEachOption(order binary.ByteOrder, buf []byte, fn func(code uint16, value []byte)) {
	for len(buf) >= 4 {
		code := order.Uint16(buf[0:2])
		length := order.Uint16(buf[2:4])
		buf = buf[4:]

		if code == optEndOfOpt {
			return
		}

		if int(length) > len(buf) {
			return
		}
		value := buf[:length]
		fn(code, value)

		padded := (int(length) + 3) &^ 3
		if padded > len(buf) {
			return
		}
		buf = buf[padded:]
	}
}
