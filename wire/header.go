// Package wire defines the on-wire packet layouts exchanged by the
// transport core: the common base header and the RTS/CTS/DATA/CONNACK/
// READRSP/EOR variants built on top of it. All layouts are packed and
// little-endian, matching the fabric's wire contract.
package wire

import (
	"encoding/binary"
	"errors"
	"unsafe"
)

// Type identifies the packet variant. It is always the first byte on
// the wire so a receiver can dispatch before decoding the rest.
type Type uint8

// Packet types. Values are part of the wire contract; do not renumber.
const (
	TypeInvalid Type = 0
	TypeRTS     Type = 1
	TypeConnack Type = 2
	TypeCTS     Type = 3
	TypeData    Type = 4
	TypeReadRsp Type = 5
	TypeEOR     Type = 6
)

var typeName = map[Type]string{
	TypeInvalid: "INVALID",
	TypeRTS:     "RTS",
	TypeConnack: "CONNACK",
	TypeCTS:     "CTS",
	TypeData:    "DATA",
	TypeReadRsp: "READRSP",
	TypeEOR:     "EOR",
}

func (t Type) String() string {
	if s, ok := typeName[t]; ok {
		return s
	}
	return "UNKNOWN_TYPE"
}

// Flags carried in the base header. Unknown flags must be ignored by a
// receiver except FlagRemoteSrcAddr and FlagRemoteCQData, which change
// packet length and are therefore mandatory to understand.
type Flags uint16

const (
	// FlagRemoteSrcAddr marks that the initiator's core-level address
	// follows the fixed RTS fields.
	FlagRemoteSrcAddr Flags = 1 << 0
	// FlagRemoteCQData marks that a completion-data word follows.
	FlagRemoteCQData Flags = 1 << 1
	// FlagTagged distinguishes a tagged message from an untagged one.
	FlagTagged Flags = 1 << 2
	// FlagSHMHdr marks shared-memory-side traffic.
	FlagSHMHdr Flags = 1 << 3
	// FlagSHMHdrData marks that the eager payload is inlined in an
	// shm-side RTS (fits within the shm medium-message limit).
	FlagSHMHdrData Flags = 1 << 4
	// FlagReadReq marks a CTS that answers a read request.
	FlagReadReq Flags = 1 << 5

	// flagsLengthChanging is the set of flags a receiver MUST
	// understand because they alter how many bytes follow the base
	// header.
	flagsLengthChanging = FlagRemoteSrcAddr | FlagRemoteCQData
)

// ProtocolVersion is the only version this package encodes or accepts.
const ProtocolVersion uint8 = 1

// ErrShortPacket is returned when a raw buffer is too small to hold the
// header it claims to be.
var ErrShortPacket = errors.New("wire: packet shorter than header")

// ErrUnknownType is returned by Dispatch for an unrecognized base
// header type.
var ErrUnknownType = errors.New("wire: unknown packet type")

// ErrBadVersion is returned when the base header's version field does
// not match ProtocolVersion.
var ErrBadVersion = errors.New("wire: unsupported protocol version")

// BaseHeader is the fixed prefix of every packet. Fields beyond it are
// type-specific and parsed only after Dispatch identifies Type.
type BaseHeader struct {
	PktType Type
	Version uint8
	Flags   Flags
}

// BaseHeaderSize is the on-wire size of BaseHeader.
const BaseHeaderSize = 4 // type:1 + version:1 + flags:2

// RawPacket is a byte-slice view over an on-wire packet. It owns no
// memory; the backing array is the packet entry's staging buffer.
type RawPacket []byte

// ParseBase reads the base header without validating the variant
// fields that follow it. Callers must check Version themselves or use
// Dispatch, which does it for them.
func (p RawPacket) ParseBase() (*BaseHeader, error) {
	if len(p) < BaseHeaderSize {
		return nil, ErrShortPacket
	}
	return &BaseHeader{
		PktType: Type(p[0]),
		Version: p[1],
		Flags:   Flags(binary.LittleEndian.Uint16(p[2:4])),
	}, nil
}

// Dispatch parses and validates the base header, returning
// ErrBadVersion or ErrUnknownType as appropriate so callers can route
// unparseable packets straight to the error handler (spec.md §4.5 step
// 4, §7 Fatal).
func (p RawPacket) Dispatch() (*BaseHeader, error) {
	h, err := p.ParseBase()
	if err != nil {
		return nil, err
	}
	if h.Version != ProtocolVersion {
		return h, ErrBadVersion
	}
	switch h.PktType {
	case TypeRTS, TypeConnack, TypeCTS, TypeData, TypeReadRsp, TypeEOR:
		return h, nil
	default:
		return h, ErrUnknownType
	}
}

// putBase writes the base header at the start of buf. buf must have at
// least BaseHeaderSize bytes.
func putBase(buf []byte, t Type, flags Flags) {
	buf[0] = byte(t)
	buf[1] = ProtocolVersion
	binary.LittleEndian.PutUint16(buf[2:4], uint16(flags))
}

// sizeOf reports the packed size of a fixed-layout struct T, used to
// bounds-check raw slices before the unsafe.Pointer reinterpret casts
// that follow.
func sizeOf[T any]() int {
	var z T
	return int(unsafe.Sizeof(z))
}
