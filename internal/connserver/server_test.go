// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/linastore/lina/internal/blobstore"
	"github.com/linastore/lina/internal/codec"
	"github.com/linastore/lina/internal/engine"
	"github.com/linastore/lina/internal/nameindex"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	dir := t.TempDir()

	blobs, err := blobstore.NewStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blobstore.NewStore: %v", err)
	}
	names, err := nameindex.Open(filepath.Join(dir, "index.db"), 2, nil)
	if err != nil {
		t.Fatalf("nameindex.Open: %v", err)
	}

	eng := engine.New(blobs, names, 64<<20, nil)
	srv, err := New(Config{Addr: "127.0.0.1:0", Engine: eng})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, func() { names.Close() }
}

// listenAndServe starts Serve on a background goroutine against an
// ephemeral port and returns the resolved address plus a stop func.
func listenAndServe(t *testing.T, srv *Server) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	srv.addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	// Give the listener a moment to bind before the first dial.
	for i := 0; i < 100; i++ {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(time.Millisecond)
	}

	return addr, func() {
		cancel()
		<-done
	}
}

func roundTrip(t *testing.T, addr string, req codec.Frame) codec.Frame {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := codec.Encode(conn, req); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	resp, err := codec.Decode(conn)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return resp
}

func TestServerWriteReadDelete(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	addr, stop := listenAndServe(t, srv)
	defer stop()

	writeResp := roundTrip(t, addr, codec.Frame{
		Flags:   codec.MakeFlags(codec.OpWrite, false, false),
		Name:    "hello.txt",
		Payload: []byte("hello"),
	})
	if writeResp.Flags.Op() != codec.OpNone {
		t.Fatalf("write response Flags = %#x, want FO=0 (success)", byte(writeResp.Flags))
	}

	readResp := roundTrip(t, addr, codec.Frame{
		Flags: codec.MakeFlags(codec.OpRead, false, false),
		Name:  "hello.txt",
	})
	if !bytes.Equal(readResp.Payload, []byte("hello")) {
		t.Fatalf("read response Payload = %q, want %q", readResp.Payload, "hello")
	}

	deleteResp := roundTrip(t, addr, codec.Frame{
		Flags: codec.MakeFlags(codec.OpDelete, false, false),
		Name:  "hello.txt",
	})
	if deleteResp.Flags.Op() != codec.OpNone {
		t.Fatalf("delete response Flags = %#x, want FO=0 (success)", byte(deleteResp.Flags))
	}

	secondDelete := roundTrip(t, addr, codec.Frame{
		Flags: codec.MakeFlags(codec.OpDelete, false, false),
		Name:  "hello.txt",
	})
	if secondDelete.Flags != wireNotFound {
		t.Fatalf("second delete response Flags = %#x, want %#x (NotFound)", byte(secondDelete.Flags), byte(wireNotFound))
	}
}

func TestServerReadMissingReturnsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	addr, stop := listenAndServe(t, srv)
	defer stop()

	resp := roundTrip(t, addr, codec.Frame{
		Flags: codec.MakeFlags(codec.OpRead, false, false),
		Name:  "missing.txt",
	})
	if resp.Flags != wireNotFound {
		t.Fatalf("response Flags = %#x, want %#x (NotFound)", byte(resp.Flags), byte(wireNotFound))
	}
}

func TestServerWriteConflictReturnsExists(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	addr, stop := listenAndServe(t, srv)
	defer stop()

	roundTrip(t, addr, codec.Frame{
		Flags:   codec.MakeFlags(codec.OpWrite, false, false),
		Name:    "a.txt",
		Payload: []byte("hello"),
	})

	resp := roundTrip(t, addr, codec.Frame{
		Flags:   codec.MakeFlags(codec.OpWrite, false, false),
		Name:    "a.txt",
		Payload: []byte("world"),
	})
	if resp.Flags != wireExists {
		t.Fatalf("response Flags = %#x, want %#x (Exists)", byte(resp.Flags), byte(wireExists))
	}
}

func TestServerChecksumMismatchClosesConnection(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	addr, stop := listenAndServe(t, srv)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	if err := codec.Encode(&buf, codec.Frame{
		Flags:   codec.MakeFlags(codec.OpWrite, false, false),
		Name:    "a.txt",
		Payload: []byte("hello"),
	}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	if _, err := conn.Write(corrupted); err != nil {
		t.Fatalf("Write: %v", err)
	}

	resp, err := codec.Decode(conn)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Flags != wireChecksumMismatch {
		t.Fatalf("response Flags = %#x, want %#x (ChecksumMismatch)", byte(resp.Flags), byte(wireChecksumMismatch))
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read after response = %v, want io.EOF (connection closed)", err)
	}
}
