// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine composes the codec, blob store, and name index into
// the three operations a LiNa connection can request: WRITE, READ, and
// DELETE. Each operation is the transactional center described by the
// write-then-commit / commit-then-release ordering: blob I/O happens
// before the index commit for writes, so a crash can only leave an
// unreferenced blob, never a dangling index entry; blob I/O happens
// after the index commit for deletes, so a crash can only leave an
// unreferenced blob, never an index entry pointing at a missing blob.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/linastore/lina/internal/blobstore"
	"github.com/linastore/lina/internal/codec"
	"github.com/linastore/lina/internal/nameindex"
)

// Engine is the shared state threaded through every connection worker:
// the blob store, the name index, and the configured payload ceiling.
type Engine struct {
	blobs *blobstore.Store
	names *nameindex.Index

	maxPayloadSize int64
	logger         *slog.Logger
}

// New returns an Engine backed by blobs and names. maxPayloadSize
// bounds the payload WRITE will accept; zero or negative disables the
// check (the connection loop still enforces its own ceiling).
func New(blobs *blobstore.Store, names *nameindex.Index, maxPayloadSize int64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		blobs:          blobs,
		names:          names,
		maxPayloadSize: maxPayloadSize,
		logger:         logger,
	}
}

// Write stores payload under name, deduplicating by content hash.
// cover authorizes rebinding name away from a different existing hash;
// without it, a conflicting name returns ErrExists. created reports
// whether name had no prior entry (callers that translate into HTTP,
// e.g. internal/httpapi, use it to choose 200 vs 201).
func (e *Engine) Write(ctx context.Context, name string, payload []byte, cover, compress bool) (created bool, err error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	if e.maxPayloadSize > 0 && int64(len(payload)) > e.maxPayloadSize {
		return false, ErrPayloadTooLarge
	}

	hash := digest(payload)

	blobCreated, compressedEffective, err := e.blobs.Put(hash, payload, compress)
	if err != nil {
		return false, fmt.Errorf("%w: storing blob %s: %v", ErrInternal, hash, err)
	}

	result, err := e.names.Bind(ctx, name, hash, compressedEffective, uint32(len(payload)), cover)
	if err != nil {
		if blobCreated {
			e.releaseOrphan(hash)
		}
		if errors.Is(err, nameindex.ErrExists) {
			return false, ErrExists
		}
		return false, fmt.Errorf("%w: binding %q: %v", ErrInternal, name, err)
	}

	if result.ReleasedHash != "" {
		e.releaseOrphan(result.ReleasedHash)
	}
	return result.Outcome == nameindex.BindCreated, nil
}

// Read returns the payload bound to name, inflating it if it was
// stored compressed. Returns ErrNotFound if name is unbound.
func (e *Engine) Read(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	hash, _, sizeRaw, err := e.names.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, nameindex.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: resolving %q: %v", ErrInternal, name, err)
	}

	payload, _, gotSize, err := e.blobs.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %v", ErrInternal, hash, err)
	}
	if gotSize != sizeRaw {
		return nil, fmt.Errorf("%w: blob %s size %d does not match index size %d", ErrInternal, hash, gotSize, sizeRaw)
	}
	return payload, nil
}

// Delete unbinds name, releasing the underlying blob if this was its
// last reference. A failure to release the blob is logged but does
// not fail the operation: the blob is already unreferenced and can be
// reaped by a later sweep. Returns ErrNotFound if name is unbound.
func (e *Engine) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	hash, released, err := e.names.Unbind(ctx, name)
	if err != nil {
		if errors.Is(err, nameindex.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: unbinding %q: %v", ErrInternal, name, err)
	}

	if released {
		e.releaseOrphan(hash)
	}
	return nil
}

// StatResult describes a bound name without fetching its payload.
type StatResult struct {
	Hash       string
	Compressed bool
	SizeRaw    uint32
}

// Stat resolves name to its content hash, codec, and raw size without
// reading the blob. Returns ErrNotFound if name is unbound.
func (e *Engine) Stat(ctx context.Context, name string) (StatResult, error) {
	if err := validateName(name); err != nil {
		return StatResult{}, err
	}

	hash, compressed, sizeRaw, err := e.names.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, nameindex.ErrNotFound) {
			return StatResult{}, ErrNotFound
		}
		return StatResult{}, fmt.Errorf("%w: resolving %q: %v", ErrInternal, name, err)
	}
	return StatResult{Hash: hash, Compressed: compressed, SizeRaw: sizeRaw}, nil
}

// FsckReport is the result of a consistency sweep between the name
// index's blobs table and the blob store's on-disk contents. It never
// mutates state; it only reports discrepancies for an operator to
// investigate.
type FsckReport struct {
	// BlobsChecked is the number of blobs rows examined.
	BlobsChecked int

	// MissingBlobs are hashes with a nonzero refcount in the index but
	// no corresponding blob on disk.
	MissingBlobs []string

	// OrphanBlobs are hashes present on disk with no blobs row (or a
	// zero refcount, which should never persist but is reported if
	// found) in the index.
	OrphanBlobs []string
}

// Fsck walks the name index's blobs table and the blob store's
// on-disk shards, cross-checking that every referenced blob exists and
// every stored blob is referenced.
func (e *Engine) Fsck(ctx context.Context) (FsckReport, error) {
	records, err := e.names.AllBlobs(ctx)
	if err != nil {
		return FsckReport{}, fmt.Errorf("%w: listing index blobs: %v", ErrInternal, err)
	}

	indexed := make(map[string]int64, len(records))
	report := FsckReport{BlobsChecked: len(records)}

	for _, rec := range records {
		indexed[rec.Hash] = rec.Refcount
		if rec.Refcount > 0 && !e.blobs.Exists(rec.Hash) {
			report.MissingBlobs = append(report.MissingBlobs, rec.Hash)
		}
	}

	walkErr := e.blobs.Walk(func(hash string) error {
		if refcount, found := indexed[hash]; !found || refcount <= 0 {
			report.OrphanBlobs = append(report.OrphanBlobs, hash)
		}
		return nil
	})
	if walkErr != nil {
		return FsckReport{}, fmt.Errorf("%w: walking blob store: %v", ErrInternal, walkErr)
	}

	return report, nil
}

// releaseOrphan releases a blob that is now (or was always) known to
// be unreferenced. Failure is logged and swallowed: it cannot violate
// the refcount invariant because the index has already committed the
// state that makes the blob unreferenced.
func (e *Engine) releaseOrphan(hash string) {
	if err := e.blobs.Release(hash); err != nil {
		e.logger.Error("releasing unreferenced blob failed", "hash", hash, "error", err)
	}
}

func validateName(name string) error {
	if len(name) == 0 || len(name) > codec.MaxNameLength {
		return ErrNameInvalid
	}
	return nil
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
