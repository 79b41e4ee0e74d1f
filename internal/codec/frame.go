// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the LiNa wire protocol: a fixed 264-byte
// frame header followed by an optional payload, carrying one of the
// READ/WRITE/DELETE operations and the Cover/Compress content flags.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame layout constants. Header size is exactly 0x108 = 264 bytes.
const (
	nameFieldSize   = 255
	lengthFieldSize = 4
	crcFieldSize    = 4

	flagsOffset  = 0
	nameOffset   = 1
	lengthOffset = nameOffset + nameFieldSize
	crcOffset    = lengthOffset + lengthFieldSize

	// HeaderSize is the fixed frame header size: flags(1) + name(255) +
	// length(4) + checksum(4).
	HeaderSize = crcOffset + crcFieldSize

	// MaxNameLength is the largest name that fits in the Name field.
	MaxNameLength = nameFieldSize

	// MaxPayloadLength is the largest payload Length can address (a
	// LE uint32 count of bytes). Callers should additionally enforce
	// an operational ceiling (see engine.New's maxPayloadSize) well below
	// this wire limit.
	MaxPayloadLength = 1<<32 - 1
)

// Flag bit layout (bit 7 = MSB): bits 7..6 are the file operation,
// bits 5..2 are reserved (must be zero), bit 1 is Cover, bit 0 is
// Compress.
const (
	opShift = 6
	opMask  = 0x03

	coverBit    = 1 << 1
	compressBit = 1 << 0
)

// Op identifies the file operation carried in a frame's Flags byte.
type Op byte

const (
	OpNone   Op = 0
	OpRead   Op = 1
	OpWrite  Op = 2
	OpDelete Op = 3
)

func (op Op) String() string {
	switch op {
	case OpNone:
		return "none"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", byte(op))
	}
}

// Flags is the single-byte frame flags field: operation, cover, and
// compress bits packed together. Bits 5..2 are reserved and must be
// zero on encode; Decode rejects frames with those bits set.
type Flags byte

// MakeFlags packs an operation and the cover/compress bits into a
// Flags byte.
func MakeFlags(op Op, cover, compress bool) Flags {
	var f Flags
	f |= Flags(op&opMask) << opShift
	if cover {
		f |= coverBit
	}
	if compress {
		f |= compressBit
	}
	return f
}

// Op extracts the file operation from bits 7..6.
func (f Flags) Op() Op { return Op((f >> opShift) & opMask) }

// Cover reports whether bit 1 is set.
func (f Flags) Cover() bool { return f&coverBit != 0 }

// Compress reports whether bit 0 is set.
func (f Flags) Compress() bool { return f&compressBit != 0 }

// reserved reports whether any of bits 5..2 are set.
func (f Flags) reserved() bool { return f&0b00111100 != 0 }

// Frame is one LiNa protocol unit: header fields plus payload.
// Name and Payload are unpadded, logical values — padding to the wire
// format happens in Encode.
type Frame struct {
	Flags   Flags
	Name    string
	Payload []byte
}

// Encode serializes f as a 264-byte header followed by its payload
// and writes the result to w. Fails if the name or payload exceed the
// wire limits.
func Encode(w io.Writer, f Frame) error {
	if len(f.Name) > MaxNameLength {
		return fmt.Errorf("codec: name length %d exceeds %d bytes", len(f.Name), MaxNameLength)
	}
	if uint64(len(f.Payload)) > MaxPayloadLength {
		return fmt.Errorf("codec: payload length %d exceeds %d bytes", len(f.Payload), MaxPayloadLength)
	}

	var header [HeaderSize]byte
	header[flagsOffset] = byte(f.Flags)
	copy(header[nameOffset:nameOffset+nameFieldSize], f.Name)
	binary.LittleEndian.PutUint32(header[lengthOffset:], uint32(len(f.Payload)))

	// Checksum covers Name || Length || Payload, in wire order. Flags
	// is NOT covered.
	checksum := crc32.NewIEEE()
	checksum.Write(header[nameOffset:lengthOffset])
	checksum.Write(header[lengthOffset:crcOffset])
	checksum.Write(f.Payload)
	binary.LittleEndian.PutUint32(header[crcOffset:], checksum.Sum32())

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("codec: writing header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("codec: writing payload: %w", err)
		}
	}
	return nil
}

// Decode reads exactly one frame from r: the 264-byte header, then
// exactly Length payload bytes. Returns ErrChecksumMismatch if the
// recovered checksum does not match, or an error wrapping io.EOF /
// io.ErrUnexpectedEOF if the stream ends before a complete frame is
// read.
func Decode(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("codec: reading header: %w", err)
	}
	return decodeAfterHeader(header, r)
}

// DecodeLimited behaves like Decode, but rejects a frame whose Length
// field exceeds maxPayload before reading any payload bytes. This lets
// a connection loop refuse an oversized request without allocating or
// blocking on the declared payload length.
func DecodeLimited(r io.Reader, maxPayload uint32) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("codec: reading header: %w", err)
	}
	length := binary.LittleEndian.Uint32(header[lengthOffset:crcOffset])
	if length > maxPayload {
		return Frame{}, ErrPayloadTooLarge
	}
	return decodeAfterHeader(header, r)
}

// decodeAfterHeader completes decoding once the 264-byte header has
// been read into header: validates reserved bits, reads the payload,
// and verifies the checksum.
func decodeAfterHeader(header [HeaderSize]byte, r io.Reader) (Frame, error) {
	flags := Flags(header[flagsOffset])
	if flags.reserved() {
		return Frame{}, fmt.Errorf("%w: reserved flag bits set", ErrMalformed)
	}

	name := decodeName(header[nameOffset : nameOffset+nameFieldSize])
	length := binary.LittleEndian.Uint32(header[lengthOffset:crcOffset])
	wantChecksum := binary.LittleEndian.Uint32(header[crcOffset:HeaderSize])

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("codec: reading payload: %w", err)
		}
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[nameOffset:lengthOffset])
	checksum.Write(header[lengthOffset:crcOffset])
	checksum.Write(payload)
	if checksum.Sum32() != wantChecksum {
		return Frame{}, ErrChecksumMismatch
	}

	return Frame{Flags: flags, Name: name, Payload: payload}, nil
}

// decodeName returns the logical name held in a zero-padded 255-byte
// field: everything before the first NUL byte (or the whole field, if
// no NUL is present).
func decodeName(field []byte) string {
	if i := indexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
