// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nameindex is the persistent mapping from filename to
// content hash, plus the reverse reference count that drives blob
// deletion. It is backed by SQLite through lib/sqlitepool, with a
// single-writer discipline
// enforced by an in-process mutex around bind/unbind.
package nameindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/linastore/lina/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS names(
	name TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	compressed INTEGER NOT NULL,
	size_raw INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS blobs(
	hash TEXT PRIMARY KEY,
	refcount INTEGER NOT NULL,
	compressed INTEGER NOT NULL,
	raw_size INTEGER NOT NULL
);
`

// BindOutcome describes what Bind did to reach its result.
type BindOutcome int

const (
	// BindCreated means name had no prior entry; one was inserted.
	BindCreated BindOutcome = iota
	// BindAlreadyBound means name was already bound to hash; no
	// mutation occurred.
	BindAlreadyBound
	// BindRebound means name was rebound from a different hash to
	// hash under cover=true.
	BindRebound
)

// BindResult is the outcome of a Bind call.
type BindResult struct {
	Outcome BindOutcome

	// ReleasedHash is set to the old hash when a cover-rebind dropped
	// its refcount to zero. The caller (internal/engine) must release
	// the corresponding blob. Empty otherwise.
	ReleasedHash string
}

// Index is the SQLite-backed name index.
type Index struct {
	pool *sqlitepool.Pool

	// writeMu serializes bind/unbind. Resolve does not take this lock:
	// readers proceed concurrently with each other and with writers,
	// per the single-writer/many-reader discipline WAL mode provides.
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the names/blobs schema exists.
func Open(path string, poolSize int, logger *slog.Logger) (*Index, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("nameindex: %w", err)
	}
	return &Index{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (idx *Index) Close() error {
	return idx.pool.Close()
}

// Bind maps name to hash, following spec.md §4.3's bind semantics: an
// absent name is inserted and the blob's refcount incremented; a name
// already bound to hash is a no-op (AlreadyBound); a name bound to a
// different hash requires cover=true, in which case the old blob's
// refcount is decremented (and released if it reaches zero) and the
// name is rebound.
func (idx *Index) Bind(ctx context.Context, name, hash string, compressed bool, sizeRaw uint32, cover bool) (result BindResult, err error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	conn, err := idx.pool.Take(ctx)
	if err != nil {
		return BindResult{}, fmt.Errorf("nameindex: bind: %w", err)
	}
	defer idx.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return BindResult{}, fmt.Errorf("nameindex: bind: begin transaction: %w", err)
	}
	defer endTx(&err)

	existingHash, _, _, found, queryErr := queryName(conn, name)
	if queryErr != nil {
		err = queryErr
		return BindResult{}, err
	}

	if !found {
		if err = incrementRefcount(conn, hash, compressed, sizeRaw); err != nil {
			return BindResult{}, err
		}
		if err = insertName(conn, name, hash, compressed, sizeRaw); err != nil {
			return BindResult{}, err
		}
		return BindResult{Outcome: BindCreated}, nil
	}

	if existingHash == hash {
		return BindResult{Outcome: BindAlreadyBound}, nil
	}

	if !cover {
		err = ErrExists
		return BindResult{}, err
	}

	released, releaseErr := decrementRefcount(conn, existingHash)
	if releaseErr != nil {
		err = releaseErr
		return BindResult{}, err
	}
	if err = incrementRefcount(conn, hash, compressed, sizeRaw); err != nil {
		return BindResult{}, err
	}
	if err = updateName(conn, name, hash, compressed, sizeRaw); err != nil {
		return BindResult{}, err
	}

	result = BindResult{Outcome: BindRebound}
	if released {
		result.ReleasedHash = existingHash
	}
	return result, nil
}

// Resolve returns the hash, compressed flag, and raw size bound to
// name, or ErrNotFound.
func (idx *Index) Resolve(ctx context.Context, name string) (hash string, compressed bool, sizeRaw uint32, err error) {
	conn, err := idx.pool.Take(ctx)
	if err != nil {
		return "", false, 0, fmt.Errorf("nameindex: resolve: %w", err)
	}
	defer idx.pool.Put(conn)

	hash, compressed, sizeRaw, found, err := queryName(conn, name)
	if err != nil {
		return "", false, 0, err
	}
	if !found {
		return "", false, 0, ErrNotFound
	}
	return hash, compressed, sizeRaw, nil
}

// Unbind removes name from the index, decrementing the referenced
// blob's refcount. Returns the unbound hash and whether the blob's
// refcount reached zero (in which case the caller must release the
// blob). Returns ErrNotFound if name is absent.
func (idx *Index) Unbind(ctx context.Context, name string) (hash string, released bool, err error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	conn, err := idx.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("nameindex: unbind: %w", err)
	}
	defer idx.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return "", false, fmt.Errorf("nameindex: unbind: begin transaction: %w", err)
	}
	defer endTx(&err)

	existingHash, _, _, found, queryErr := queryName(conn, name)
	if queryErr != nil {
		err = queryErr
		return "", false, err
	}
	if !found {
		err = ErrNotFound
		return "", false, err
	}

	if err = deleteName(conn, name); err != nil {
		return "", false, err
	}

	released, err = decrementRefcount(conn, existingHash)
	if err != nil {
		return "", false, err
	}
	return existingHash, released, nil
}

// BlobRecord is one row of the blobs table, as reported to fsck.
type BlobRecord struct {
	Hash     string
	Refcount int64
}

// AllBlobs returns every row of the blobs table, for fsck's
// cross-check against what is actually on disk.
func (idx *Index) AllBlobs(ctx context.Context) ([]BlobRecord, error) {
	conn, err := idx.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("nameindex: all blobs: %w", err)
	}
	defer idx.pool.Put(conn)

	var records []BlobRecord
	err = sqlitex.Execute(conn, "SELECT hash, refcount FROM blobs", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, BlobRecord{
				Hash:     stmt.ColumnText(0),
				Refcount: stmt.ColumnInt64(1),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("nameindex: listing blobs: %w", err)
	}
	return records, nil
}

func queryName(conn *sqlite.Conn, name string) (hash string, compressed bool, sizeRaw uint32, found bool, err error) {
	err = sqlitex.Execute(conn, "SELECT hash, compressed, size_raw FROM names WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			hash = stmt.ColumnText(0)
			compressed = stmt.ColumnInt(1) != 0
			sizeRaw = uint32(stmt.ColumnInt64(2))
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, 0, false, fmt.Errorf("nameindex: querying name %q: %w", name, err)
	}
	return hash, compressed, sizeRaw, found, nil
}

func insertName(conn *sqlite.Conn, name, hash string, compressed bool, sizeRaw uint32) error {
	err := sqlitex.Execute(conn, "INSERT INTO names(name, hash, compressed, size_raw) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{name, hash, boolToInt(compressed), int64(sizeRaw)},
	})
	if err != nil {
		return fmt.Errorf("nameindex: inserting name %q: %w", name, err)
	}
	return nil
}

func updateName(conn *sqlite.Conn, name, hash string, compressed bool, sizeRaw uint32) error {
	err := sqlitex.Execute(conn, "UPDATE names SET hash = ?, compressed = ?, size_raw = ? WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{hash, boolToInt(compressed), int64(sizeRaw), name},
	})
	if err != nil {
		return fmt.Errorf("nameindex: updating name %q: %w", name, err)
	}
	return nil
}

func deleteName(conn *sqlite.Conn, name string) error {
	err := sqlitex.Execute(conn, "DELETE FROM names WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
	})
	if err != nil {
		return fmt.Errorf("nameindex: deleting name %q: %w", name, err)
	}
	return nil
}

// incrementRefcount inserts a new blobs row at refcount 1, or bumps an
// existing row's refcount by one. The compressed/raw_size on an
// existing row are left untouched — the first writer's codec choice is
// authoritative for the life of the blob.
func incrementRefcount(conn *sqlite.Conn, hash string, compressed bool, sizeRaw uint32) error {
	err := sqlitex.Execute(conn, `
		INSERT INTO blobs(hash, refcount, compressed, raw_size) VALUES (?, 1, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET refcount = refcount + 1
	`, &sqlitex.ExecOptions{
		Args: []any{hash, boolToInt(compressed), int64(sizeRaw)},
	})
	if err != nil {
		return fmt.Errorf("nameindex: incrementing refcount for %q: %w", hash, err)
	}
	return nil
}

// decrementRefcount lowers hash's refcount by one, deleting the blobs
// row (and reporting released=true) if it reaches zero.
func decrementRefcount(conn *sqlite.Conn, hash string) (released bool, err error) {
	var refcount int64
	found := false
	err = sqlitex.Execute(conn, "SELECT refcount FROM blobs WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{hash},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			refcount = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("nameindex: reading refcount for %q: %w", hash, err)
	}
	if !found {
		return false, fmt.Errorf("nameindex: no blobs row for hash %q", hash)
	}

	if refcount <= 1 {
		if err := sqlitex.Execute(conn, "DELETE FROM blobs WHERE hash = ?", &sqlitex.ExecOptions{
			Args: []any{hash},
		}); err != nil {
			return false, fmt.Errorf("nameindex: deleting blobs row for %q: %w", hash, err)
		}
		return true, nil
	}

	if err := sqlitex.Execute(conn, "UPDATE blobs SET refcount = refcount - 1 WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{hash},
	}); err != nil {
		return false, fmt.Errorf("nameindex: decrementing refcount for %q: %w", hash, err)
	}
	return false, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
