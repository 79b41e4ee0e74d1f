// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "errors"

var (
	// ErrNotFound indicates the requested name has no entry.
	ErrNotFound = errors.New("engine: name not found")

	// ErrExists indicates a WRITE targeted a name already bound to a
	// different hash and cover was not set.
	ErrExists = errors.New("engine: name already bound to a different hash")

	// ErrNameInvalid indicates the name is empty or exceeds the wire
	// name length limit.
	ErrNameInvalid = errors.New("engine: name is empty or too long")

	// ErrPayloadTooLarge indicates the payload exceeds the maxPayloadSize
	// the Engine was created with.
	ErrPayloadTooLarge = errors.New("engine: payload exceeds the configured size limit")

	// ErrInternal wraps an underlying blob store or name index failure
	// that the caller should surface as an opaque internal error.
	ErrInternal = errors.New("engine: internal storage error")
)
