// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import "errors"

var (
	// ErrMalformed indicates a frame header violates the wire format
	// (reserved flag bits set, etc.).
	ErrMalformed = errors.New("codec: malformed frame")

	// ErrChecksumMismatch indicates the recovered CRC-32 did not match
	// the checksum carried in the frame header.
	ErrChecksumMismatch = errors.New("codec: checksum mismatch")

	// ErrPayloadTooLarge indicates DecodeLimited saw a Length field
	// exceeding the caller's configured ceiling. Unlike
	// ErrChecksumMismatch, this is detected before the payload is read,
	// so no payload bytes are consumed from r.
	ErrPayloadTooLarge = errors.New("codec: payload length exceeds configured limit")
)
