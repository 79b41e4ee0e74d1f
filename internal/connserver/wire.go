// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connserver

import (
	"errors"

	"github.com/linastore/lina/internal/codec"
	"github.com/linastore/lina/internal/engine"
)

// Wire error codes carried verbatim in a response frame's Flags byte
// (spec.md §7). On error, the whole byte is the code: unlike a
// request or success-response Flags byte, these are not run through
// codec.MakeFlags's FO/Cover/Compress decomposition.
const (
	wireNotFound         codec.Flags = 0x01
	wireExists           codec.Flags = 0x02
	wireChecksumMismatch codec.Flags = 0x03
	wireNameTooLong      codec.Flags = 0x04
	wirePayloadTooLarge  codec.Flags = 0x05
	wireInternalIO       codec.Flags = 0x7F
)

// errorFrame builds a response frame carrying a wire error code. name
// is echoed when known; it is empty for errors detected before the
// frame header could be fully trusted (checksum mismatch, oversized
// payload).
func errorFrame(name string, code codec.Flags) codec.Frame {
	return codec.Frame{Flags: code, Name: name}
}

// wireCodeFor maps an engine error to its wire error code.
func wireCodeFor(err error) codec.Flags {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return wireNotFound
	case errors.Is(err, engine.ErrExists):
		return wireExists
	case errors.Is(err, engine.ErrNameInvalid):
		return wireNameTooLong
	case errors.Is(err, engine.ErrPayloadTooLarge):
		return wirePayloadTooLarge
	default:
		return wireInternalIO
	}
}
