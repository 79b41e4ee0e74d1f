// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobstore stores and retrieves content-addressed byte
// payloads on a local filesystem, with two-level directory fan-out,
// optional DEFLATE compression, and refcount-driven deletion owned by
// the caller: internal/nameindex tracks refcounts and internal/engine
// calls Release.
package blobstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
)

const (
	metaSize              = 6
	metaCompressed        = 0
	metaReserved          = 1
	metaRawSizeOff        = 2
	flateCompressionLevel = flate.DefaultCompression

	// hashLength is the width of a SHA-256 hex digest, used by Walk to
	// tell blob files apart from shard directories.
	hashLength = 64
)

// Store is a two-level sharded, content-addressed blob store rooted at
// a single directory: `<root>/<hash[0:2]>/<hash[2:4]>/<hash>` holds the
// (possibly compressed) payload, and `<hash>.meta` holds a 6-byte
// sidecar: {compressed:1, reserved:1, size_raw:4 LE}.
type Store struct {
	root string

	mu      sync.Mutex
	creating map[string]*sync.WaitGroup
}

// NewStore returns a Store rooted at root, creating the directory if
// it does not already exist.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root %q: %w", root, err)
	}
	return &Store{
		root:     root,
		creating: make(map[string]*sync.WaitGroup),
	}, nil
}

func (s *Store) shardDir(hash string) string {
	return filepath.Join(s.root, hash[0:2], hash[2:4])
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.shardDir(hash), hash)
}

func (s *Store) metaPath(hash string) string {
	return s.blobPath(hash) + ".meta"
}

// Exists reports whether hash has a blob on disk.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// Put stores payload under hash if no blob for hash exists yet.
// Concurrent Puts of the same hash are serialized: exactly one
// performs the write; the rest observe created=false once the writer
// finishes. If a blob for hash already exists, compress is ignored and
// the stored codec's compressed flag is authoritative (returned as
// compressedEffective).
func (s *Store) Put(hash string, payload []byte, compress bool) (created bool, compressedEffective bool, err error) {
	for {
		s.mu.Lock()
		if wg, busy := s.creating[hash]; busy {
			s.mu.Unlock()
			wg.Wait()
			continue
		}
		if s.Exists(hash) {
			s.mu.Unlock()
			compressed, _, err := s.readMeta(hash)
			return false, compressed, err
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		s.creating[hash] = wg
		s.mu.Unlock()

		err := s.writeBlob(hash, payload, compress)

		s.mu.Lock()
		delete(s.creating, hash)
		s.mu.Unlock()
		wg.Done()

		if err != nil {
			return false, false, err
		}
		return true, compress, nil
	}
}

func (s *Store) writeBlob(hash string, payload []byte, compress bool) error {
	dir := s.shardDir(hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blobstore: creating shard dir %q: %w", dir, err)
	}

	var stored []byte
	if compress {
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flateCompressionLevel)
		if err != nil {
			return fmt.Errorf("blobstore: creating flate writer: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("blobstore: deflating payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("blobstore: closing flate writer: %w", err)
		}
		stored = buf.Bytes()
	} else {
		stored = payload
	}

	if err := writeFileAtomic(s.blobPath(hash), dir, stored); err != nil {
		return err
	}

	meta := encodeMeta(compress, uint32(len(payload)))
	if err := writeFileAtomic(s.metaPath(hash), dir, meta); err != nil {
		return err
	}

	return fsyncDir(dir)
}

// Get reads and, if necessary, inflates the blob stored under hash.
func (s *Store) Get(hash string) (payload []byte, compressed bool, rawSize uint32, err error) {
	compressed, rawSize, err = s.readMeta(hash)
	if err != nil {
		return nil, false, 0, err
	}

	raw, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, 0, ErrNotFound
		}
		return nil, false, 0, fmt.Errorf("blobstore: reading blob %q: %w", hash, err)
	}

	if !compressed {
		if uint32(len(raw)) != rawSize {
			return nil, false, 0, ErrSizeMismatch
		}
		return raw, false, rawSize, nil
	}

	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	payload, err = io.ReadAll(r)
	if err != nil {
		return nil, false, 0, fmt.Errorf("blobstore: inflating blob %q: %w", hash, err)
	}
	if uint32(len(payload)) != rawSize {
		return nil, false, 0, ErrSizeMismatch
	}
	return payload, true, rawSize, nil
}

// Release removes the blob and its sidecar metadata for hash. Callers
// (internal/engine) must only call Release after the name index reports
// that refcount has dropped to zero, or for a blob that was never
// bound.
func (s *Store) Release(hash string) error {
	if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: removing blob %q: %w", hash, err)
	}
	if err := os.Remove(s.metaPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: removing metadata %q: %w", hash, err)
	}
	return nil
}

// Walk calls fn once for every blob hash stored under root, in
// lexical shard order. It does not lock against concurrent Put or
// Release: a blob that appears or disappears mid-walk may or may not
// be observed, which is acceptable for its only caller (fsck
// reporting, which never mutates state).
func (s *Store) Walk(fn func(hash string) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".meta") || strings.HasPrefix(name, ".tmp-") {
			return nil
		}
		if len(name) != hashLength {
			return nil
		}
		return fn(name)
	})
}

func (s *Store) readMeta(hash string) (compressed bool, rawSize uint32, err error) {
	raw, err := os.ReadFile(s.metaPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, ErrNotFound
		}
		return false, 0, fmt.Errorf("blobstore: reading metadata %q: %w", hash, err)
	}
	return decodeMeta(raw)
}

func encodeMeta(compressed bool, rawSize uint32) []byte {
	meta := make([]byte, metaSize)
	if compressed {
		meta[metaCompressed] = 1
	}
	meta[metaReserved] = 0
	binary.LittleEndian.PutUint32(meta[metaRawSizeOff:], rawSize)
	return meta
}

func decodeMeta(raw []byte) (compressed bool, rawSize uint32, err error) {
	if len(raw) != metaSize {
		return false, 0, ErrCorrupt
	}
	switch raw[metaCompressed] {
	case 0:
		compressed = false
	case 1:
		compressed = true
	default:
		return false, 0, fmt.Errorf("%w: unrecognized codec byte %#x", ErrCorrupt, raw[metaCompressed])
	}
	rawSize = binary.LittleEndian.Uint32(raw[metaRawSizeOff:])
	return compressed, rawSize, nil
}

// writeFileAtomic writes data to path by creating a temp file in dir,
// writing and fsyncing it, then renaming it into place.
func writeFileAtomic(path, dir string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("blobstore: creating temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("blobstore: writing temp file %q: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("blobstore: syncing temp file %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blobstore: closing temp file %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("blobstore: renaming %q to %q: %w", tmpPath, path, err)
	}

	success = true
	return nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("blobstore: opening dir %q for fsync: %w", dir, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("blobstore: fsyncing dir %q: %w", dir, err)
	}
	return nil
}
