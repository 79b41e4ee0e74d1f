// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nameindex

import "errors"

var (
	// ErrNotFound indicates the requested name has no entry in the
	// index.
	ErrNotFound = errors.New("nameindex: name not found")

	// ErrExists indicates bind was called on a name already bound to a
	// different hash, with cover not set.
	ErrExists = errors.New("nameindex: name already bound to a different hash")
)
