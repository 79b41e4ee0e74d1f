// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"testing"
)

func TestExitCodeForFatalConfigError(t *testing.T) {
	err := &fatalConfigError{errors.New("bad config")}
	if code := exitCodeFor(err); code != 1 {
		t.Errorf("exitCodeFor(fatalConfigError) = %d, want 1", code)
	}
}

func TestExitCodeForOtherErrorsIsUnrecoverableIO(t *testing.T) {
	err := errors.New("disk exploded")
	if code := exitCodeFor(err); code != 2 {
		t.Errorf("exitCodeFor(other) = %d, want 2", code)
	}
}

func TestBlobsDirAndIndexPathAreRootedUnderDataDir(t *testing.T) {
	if got, want := blobsDir("/var/lib/linastore"), "/var/lib/linastore/blobs"; got != want {
		t.Errorf("blobsDir = %q, want %q", got, want)
	}
	if got, want := indexPath("/var/lib/linastore"), "/var/lib/linastore/index.db"; got != want {
		t.Errorf("indexPath = %q, want %q", got, want)
	}
}
