// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package connserver accepts LiNa protocol TCP connections and
// dispatches each to the engine. A connection is one-shot: the worker
// reads exactly one frame, invokes the engine, writes exactly one
// response frame, and closes.
package connserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/linastore/lina/internal/codec"
	"github.com/linastore/lina/internal/engine"
)

const (
	// DefaultReadTimeout and DefaultWriteTimeout are the per-connection
	// I/O deadlines used when a Config leaves them at zero.
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// DefaultMaxPayloadSize is the payload ceiling applied when a
	// Config leaves it at zero.
	DefaultMaxPayloadSize = 64 << 20
)

// Config holds the parameters for a Server.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":8086".
	Addr string

	// Engine executes WRITE/READ/DELETE against the blob store and name
	// index.
	Engine *engine.Engine

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// ReadTimeout and WriteTimeout bound a single connection's header
	// and payload I/O. Zero uses the package defaults.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxPayloadSize is the largest request payload a connection will
	// accept before being reset. Zero uses DefaultMaxPayloadSize.
	MaxPayloadSize uint32
}

// Server listens for LiNa protocol connections and dispatches them to
// an engine.Engine.
type Server struct {
	addr           string
	engine         *engine.Engine
	logger         *slog.Logger
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxPayloadSize uint32

	activeConnections sync.WaitGroup
}

// New returns a Server configured by cfg. Addr and Engine are required.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("connserver: Addr is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("connserver: Engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	maxPayloadSize := cfg.MaxPayloadSize
	if maxPayloadSize == 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}

	return &Server{
		addr:           cfg.Addr,
		engine:         cfg.Engine,
		logger:         logger,
		readTimeout:    readTimeout,
		writeTimeout:   writeTimeout,
		maxPayloadSize: maxPayloadSize,
	}, nil
}

// Serve listens on the configured address and dispatches connections
// until ctx is cancelled, then stops accepting new connections and
// waits for in-flight ones to finish.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("connserver: listening on %s: %w", s.addr, err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("connection server listening", "addr", s.addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection runs the one-shot RECEIVING_HEADER -> RECEIVING_PAYLOAD
// -> EXECUTING -> RESPONDING cycle for a single accepted connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	req, err := codec.DecodeLimited(conn, s.maxPayloadSize)
	if err != nil {
		switch {
		case errors.Is(err, codec.ErrPayloadTooLarge):
			s.respond(conn, errorFrame("", wirePayloadTooLarge))
		case errors.Is(err, codec.ErrChecksumMismatch):
			s.respond(conn, errorFrame("", wireChecksumMismatch))
		default:
			// Any other decode failure (malformed header, short read)
			// closes without a reply: the client cannot be trusted to
			// parse a response to a request we could not even parse.
		}
		return
	}

	resp := s.dispatch(ctx, req)
	s.respond(conn, resp)
}

// dispatch runs req's operation against the engine and builds the
// response frame. The response Name echoes the request name; Length
// and Payload carry the result for READ, empty otherwise.
func (s *Server) dispatch(ctx context.Context, req codec.Frame) codec.Frame {
	switch req.Flags.Op() {
	case codec.OpWrite:
		_, err := s.engine.Write(ctx, req.Name, req.Payload, req.Flags.Cover(), req.Flags.Compress())
		if err != nil {
			return errorFrame(req.Name, wireCodeFor(err))
		}
		// Success: FO bits are 0 and Cover/Compress echo the request's
		// bits. On a dedup hit the blob keeps its existing codec, so the
		// echoed Compress bit does not necessarily match what is stored.
		return codec.Frame{Flags: codec.MakeFlags(codec.OpNone, req.Flags.Cover(), req.Flags.Compress()), Name: req.Name}

	case codec.OpRead:
		payload, err := s.engine.Read(ctx, req.Name)
		if err != nil {
			return errorFrame(req.Name, wireCodeFor(err))
		}
		return codec.Frame{Flags: codec.MakeFlags(codec.OpNone, false, false), Name: req.Name, Payload: payload}

	case codec.OpDelete:
		err := s.engine.Delete(ctx, req.Name)
		if err != nil {
			return errorFrame(req.Name, wireCodeFor(err))
		}
		return codec.Frame{Flags: codec.MakeFlags(codec.OpNone, false, false), Name: req.Name}

	default:
		// FO = None is unspecified upstream; refuse and close, per
		// spec.md §9's recommendation.
		return errorFrame(req.Name, wireNameTooLong)
	}
}

// respond writes resp to conn, logging (but not retrying past the
// write deadline) any failure.
func (s *Server) respond(conn net.Conn, resp codec.Frame) {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := codec.Encode(conn, resp); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}
