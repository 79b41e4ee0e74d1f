// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nameindex

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path, 2, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := idx.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return idx
}

func TestBindCreatesNewName(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	result, err := idx.Bind(ctx, "report.txt", "hash-a", false, 100, false)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if result.Outcome != BindCreated {
		t.Fatalf("Outcome = %v, want BindCreated", result.Outcome)
	}
	if result.ReleasedHash != "" {
		t.Fatalf("ReleasedHash = %q, want empty", result.ReleasedHash)
	}

	hash, compressed, sizeRaw, err := idx.Resolve(ctx, "report.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if hash != "hash-a" || compressed != false || sizeRaw != 100 {
		t.Errorf("Resolve = (%q, %v, %d), want (hash-a, false, 100)", hash, compressed, sizeRaw)
	}
}

func TestBindSameHashIsAlreadyBound(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if _, err := idx.Bind(ctx, "report.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	result, err := idx.Bind(ctx, "report.txt", "hash-a", false, 100, false)
	if err != nil {
		t.Fatalf("Bind (repeat): %v", err)
	}
	if result.Outcome != BindAlreadyBound {
		t.Fatalf("Outcome = %v, want BindAlreadyBound", result.Outcome)
	}
}

func TestBindDifferentHashWithoutCoverFails(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if _, err := idx.Bind(ctx, "report.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	_, err := idx.Bind(ctx, "report.txt", "hash-b", false, 200, false)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("Bind (conflict) error = %v, want ErrExists", err)
	}
}

func TestBindDifferentHashWithCoverRebinds(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if _, err := idx.Bind(ctx, "report.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	result, err := idx.Bind(ctx, "report.txt", "hash-b", false, 200, true)
	if err != nil {
		t.Fatalf("Bind (cover): %v", err)
	}
	if result.Outcome != BindRebound {
		t.Fatalf("Outcome = %v, want BindRebound", result.Outcome)
	}
	if result.ReleasedHash != "hash-a" {
		t.Fatalf("ReleasedHash = %q, want hash-a (refcount dropped to zero)", result.ReleasedHash)
	}

	hash, _, _, err := idx.Resolve(ctx, "report.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if hash != "hash-b" {
		t.Errorf("Resolve hash = %q, want hash-b", hash)
	}
}

func TestBindCoverDoesNotReleaseSharedHash(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	// Two names share hash-a, so covering one of them must not report
	// a release: the other name still references it.
	if _, err := idx.Bind(ctx, "a.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind a.txt: %v", err)
	}
	if _, err := idx.Bind(ctx, "b.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind b.txt: %v", err)
	}

	result, err := idx.Bind(ctx, "a.txt", "hash-c", false, 300, true)
	if err != nil {
		t.Fatalf("Bind (cover): %v", err)
	}
	if result.ReleasedHash != "" {
		t.Fatalf("ReleasedHash = %q, want empty (hash-a still referenced by b.txt)", result.ReleasedHash)
	}

	hash, _, _, err := idx.Resolve(ctx, "b.txt")
	if err != nil {
		t.Fatalf("Resolve b.txt: %v", err)
	}
	if hash != "hash-a" {
		t.Errorf("Resolve b.txt hash = %q, want hash-a", hash)
	}
}

func TestResolveNotFound(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	_, _, _, err := idx.Resolve(ctx, "missing.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve error = %v, want ErrNotFound", err)
	}
}

func TestUnbindReleasesOnLastReference(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if _, err := idx.Bind(ctx, "report.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	hash, released, err := idx.Unbind(ctx, "report.txt")
	if err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if hash != "hash-a" {
		t.Errorf("Unbind hash = %q, want hash-a", hash)
	}
	if !released {
		t.Errorf("released = false, want true")
	}

	if _, _, _, err := idx.Resolve(ctx, "report.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after unbind error = %v, want ErrNotFound", err)
	}
}

func TestUnbindKeepsSharedBlobAlive(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if _, err := idx.Bind(ctx, "a.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind a.txt: %v", err)
	}
	if _, err := idx.Bind(ctx, "b.txt", "hash-a", false, 100, false); err != nil {
		t.Fatalf("Bind b.txt: %v", err)
	}

	_, released, err := idx.Unbind(ctx, "a.txt")
	if err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if released {
		t.Errorf("released = true, want false (b.txt still references hash-a)")
	}
}

func TestUnbindNotFound(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	_, _, err := idx.Unbind(ctx, "missing.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Unbind error = %v, want ErrNotFound", err)
	}
}
