// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import "errors"

var (
	// ErrNotFound indicates the requested hash has no blob on disk.
	ErrNotFound = errors.New("blobstore: blob not found")

	// ErrCorrupt indicates a blob's sidecar metadata is malformed or
	// names a compression codec this store does not recognize.
	ErrCorrupt = errors.New("blobstore: corrupt metadata")

	// ErrSizeMismatch indicates a decompressed blob's length does not
	// match the raw size recorded in its metadata.
	ErrSizeMismatch = errors.New("blobstore: size mismatch")
)
