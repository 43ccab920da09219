package wire

import (
	"encoding/binary"
	"unsafe"
)

// RTS is the start-of-transfer packet. EncodeRTS and DecodeRTS move its
// fields one at a time, so the trailing padding Go adds to the struct
// (32 bytes in memory, RTSFixedSize on the wire) never reaches the wire.
type RTS struct {
	Tag           uint64
	DataLen       uint64
	TxID          uint32
	MsgID         uint32
	AddrLen       uint16
	CreditRequest uint16
}

// RTSFixedSize is the on-wire size of the fixed RTS fields, not
// counting the base header or any optional trailing address/cq-data/
// payload bytes.
const RTSFixedSize = 8 + 8 + 4 + 4 + 2 + 2

// CTS grants a sender a window of bytes for a referenced transfer.
type CTS struct {
	Window uint64
	TxID   uint32
	RxID   uint32
}

// CTSFixedSize is the on-wire size of CTS's fixed fields.
const CTSFixedSize = 8 + 4 + 4

// DataHdr addresses one slice of a long transfer.
type DataHdr struct {
	SegOffset uint64
	RxID      uint32
	SegSize   uint16
}

// DataHdrSize is the on-wire size of DataHdr. Go pads the struct to 16
// bytes in memory, so the DATA header is encoded field by field.
const DataHdrSize = 8 + 4 + 2

// EOR releases writer-side state after an RMA read completes.
type EOR struct {
	RxID uint32
}

// EORSize is the on-wire size of EOR.
const EORSize = 4

func init() {
	// Defensive: if struct layout ever grows padding (e.g. a field is
	// added out of size order), fail loudly instead of silently
	// corrupting the wire format.
	mustSize[CTS](CTSFixedSize)
	mustSize[EOR](EORSize)
}

func mustSize[T any](want int) {
	if got := sizeOf[T](); got != want {
		panic("wire: struct layout does not match wire size; reorder fields")
	}
}

// EncodeRTS writes the base header, fixed RTS fields, and any optional
// trailing address / completion-data bytes into buf, returning the
// number of bytes written. buf must be at least RTSHeaderLen(...)
// bytes for the same optional fields.
func EncodeRTS(buf []byte, r RTS, flags Flags, addr []byte, cqData *uint64) int {
	putBase(buf, TypeRTS, flags)
	off := BaseHeaderSize
	binary.LittleEndian.PutUint64(buf[off:], r.Tag)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], r.DataLen)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], r.TxID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], r.MsgID)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], r.AddrLen)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], r.CreditRequest)
	off += 2
	if flags&FlagRemoteSrcAddr != 0 {
		off += copy(buf[off:], addr)
	}
	if flags&FlagRemoteCQData != 0 && cqData != nil {
		binary.LittleEndian.PutUint64(buf[off:], *cqData)
		off += 8
	}
	return off
}

// DecodeRTS parses an RTS packet previously written by EncodeRTS,
// returning the fixed fields, the flags, the trailing address slice
// (nil if absent), the trailing cq-data word (nil if absent), and the
// offset at which eager payload (if any) begins.
func DecodeRTS(p RawPacket) (r RTS, flags Flags, addr []byte, cqData *uint64, payloadOff int, err error) {
	h, derr := p.ParseBase()
	if derr != nil {
		err = derr
		return
	}
	flags = h.Flags
	off := BaseHeaderSize
	if len(p) < off+RTSFixedSize {
		err = ErrShortPacket
		return
	}
	r.Tag = binary.LittleEndian.Uint64(p[off:])
	off += 8
	r.DataLen = binary.LittleEndian.Uint64(p[off:])
	off += 8
	r.TxID = binary.LittleEndian.Uint32(p[off:])
	off += 4
	r.MsgID = binary.LittleEndian.Uint32(p[off:])
	off += 4
	r.AddrLen = binary.LittleEndian.Uint16(p[off:])
	off += 2
	r.CreditRequest = binary.LittleEndian.Uint16(p[off:])
	off += 2
	if flags&FlagRemoteSrcAddr != 0 {
		if len(p) < off+int(r.AddrLen) {
			err = ErrShortPacket
			return
		}
		addr = p[off : off+int(r.AddrLen)]
		off += int(r.AddrLen)
	}
	if flags&FlagRemoteCQData != 0 {
		if len(p) < off+8 {
			err = ErrShortPacket
			return
		}
		v := binary.LittleEndian.Uint64(p[off:])
		cqData = &v
		off += 8
	}
	payloadOff = off
	return
}

// RTSHeaderLen computes the number of header bytes an RTS will occupy for
// the given optional fields, used by the eager/rendezvous split
// decision in encode.go.
func RTSHeaderLen(hasAddr bool, addrLen int, hasCQData bool) int {
	n := BaseHeaderSize + RTSFixedSize
	if hasAddr {
		n += addrLen
	}
	if hasCQData {
		n += 8
	}
	return n
}

// EncodeCTS writes a CTS packet into buf.
func EncodeCTS(buf []byte, c CTS, readReq bool) int {
	var flags Flags
	if readReq {
		flags |= FlagReadReq
	}
	putBase(buf, TypeCTS, flags)
	*(*CTS)(unsafe.Pointer(&buf[BaseHeaderSize])) = c
	return BaseHeaderSize + CTSFixedSize
}

// DecodeCTS parses a CTS packet.
func DecodeCTS(p RawPacket) (c CTS, readReq bool, err error) {
	h, derr := p.ParseBase()
	if derr != nil {
		err = derr
		return
	}
	if len(p) < BaseHeaderSize+CTSFixedSize {
		err = ErrShortPacket
		return
	}
	c = *(*CTS)(unsafe.Pointer(&p[BaseHeaderSize]))
	readReq = h.Flags&FlagReadReq != 0
	return
}

// EncodeDataHeader writes a DATA packet header (not including the
// segment payload itself, which the caller appends directly after).
func EncodeDataHeader(buf []byte, d DataHdr) int {
	putBase(buf, TypeData, 0)
	putDataHdr(buf[BaseHeaderSize:], d)
	return BaseHeaderSize + DataHdrSize
}

// DecodeDataHeader parses a DATA packet header, returning the header
// and the offset at which the segment payload begins.
func DecodeDataHeader(p RawPacket) (d DataHdr, payloadOff int, err error) {
	if _, derr := p.ParseBase(); derr != nil {
		err = derr
		return
	}
	if len(p) < BaseHeaderSize+DataHdrSize {
		err = ErrShortPacket
		return
	}
	off := BaseHeaderSize
	d.SegOffset = binary.LittleEndian.Uint64(p[off:])
	d.RxID = binary.LittleEndian.Uint32(p[off+8:])
	d.SegSize = binary.LittleEndian.Uint16(p[off+12:])
	payloadOff = BaseHeaderSize + DataHdrSize
	return
}

func putDataHdr(b []byte, d DataHdr) {
	binary.LittleEndian.PutUint64(b, d.SegOffset)
	binary.LittleEndian.PutUint32(b[8:], d.RxID)
	binary.LittleEndian.PutUint16(b[12:], d.SegSize)
}

// EncodeConnack writes a bare CONNACK packet (base header only).
func EncodeConnack(buf []byte) int {
	putBase(buf, TypeConnack, 0)
	return BaseHeaderSize
}

// EncodeEOR writes an EOR packet.
func EncodeEOR(buf []byte, e EOR) int {
	putBase(buf, TypeEOR, 0)
	*(*EOR)(unsafe.Pointer(&buf[BaseHeaderSize])) = e
	return BaseHeaderSize + EORSize
}

// DecodeEOR parses an EOR packet.
func DecodeEOR(p RawPacket) (e EOR, err error) {
	if _, derr := p.ParseBase(); derr != nil {
		err = derr
		return
	}
	if len(p) < BaseHeaderSize+EORSize {
		err = ErrShortPacket
		return
	}
	e = *(*EOR)(unsafe.Pointer(&p[BaseHeaderSize]))
	return
}

// ReadRsp shares DATA's wire shape (it is "treated analogously to DATA
// for the purposes of windowing", spec.md §4.3); EncodeReadRsp/
// DecodeReadRsp exist as distinctly-named entry points so callers
// dispatch on Type rather than on header shape.

// EncodeReadRsp writes a READRSP packet header.
func EncodeReadRsp(buf []byte, d DataHdr) int {
	putBase(buf, TypeReadRsp, 0)
	putDataHdr(buf[BaseHeaderSize:], d)
	return BaseHeaderSize + DataHdrSize
}

// DecodeReadRsp parses a READRSP packet header.
func DecodeReadRsp(p RawPacket) (d DataHdr, payloadOff int, err error) {
	return DecodeDataHeader(p)
}
