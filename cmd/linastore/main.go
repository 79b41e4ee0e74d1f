// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// linastore runs the LiNa protocol TCP listener and its HTTP façade
// against a shared blob store and name index.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/linastore/lina/internal/blobstore"
	"github.com/linastore/lina/internal/connserver"
	"github.com/linastore/lina/internal/engine"
	"github.com/linastore/lina/internal/httpapi"
	"github.com/linastore/lina/internal/nameindex"
	"github.com/linastore/lina/lib/config"
	"github.com/linastore/lina/lib/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

type fatalConfigError struct{ err error }

func (e *fatalConfigError) Error() string { return e.err.Error() }
func (e *fatalConfigError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var cfgErr *fatalConfigError
	if errors.As(err, &cfgErr) {
		return 1
	}
	return 2
}

func run() error {
	var (
		configPath string
		addr       string
		httpAddr   string
		dataDir    string
		maxPayload int64
		showHelp   bool
	)

	flags := pflag.NewFlagSet("linastore", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to linastore.yaml (overrides LINASTORE_CONFIG)")
	flags.StringVar(&addr, "addr", "", "LiNa protocol TCP listener address (overrides config)")
	flags.StringVar(&httpAddr, "http-addr", "", "HTTP façade listener address (overrides config)")
	flags.StringVar(&dataDir, "data", "", "data directory root (overrides config)")
	flags.Int64Var(&maxPayload, "max-payload", 0, "largest accepted payload in bytes (overrides config)")
	flags.BoolVarP(&showHelp, "help", "h", false, "show help")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return &fatalConfigError{err}
	}
	if showHelp {
		flags.Usage()
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return &fatalConfigError{err}
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if maxPayload > 0 {
		cfg.MaxPayload = maxPayload
	}
	if err := cfg.Validate(); err != nil {
		return &fatalConfigError{fmt.Errorf("invalid configuration: %w", err)}
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return &fatalConfigError{err}
	}

	logger := logging.New(slog.LevelInfo)

	readTimeout, err := cfg.ReadTimeoutDuration()
	if err != nil {
		return &fatalConfigError{err}
	}
	writeTimeout, err := cfg.WriteTimeoutDuration()
	if err != nil {
		return &fatalConfigError{err}
	}

	blobs, err := blobstore.NewStore(blobsDir(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	names, err := nameindex.Open(indexPath(cfg.DataDir), cfg.SQLitePoolSize, logger)
	if err != nil {
		return fmt.Errorf("opening name index: %w", err)
	}
	defer func() {
		if err := names.Close(); err != nil {
			logger.Error("closing name index", "error", err)
		}
	}()

	eng := engine.New(blobs, names, cfg.MaxPayload, logger)

	connSrv, err := connserver.New(connserver.Config{
		Addr:           cfg.Addr,
		Engine:         eng,
		Logger:         logger,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		MaxPayloadSize: uint32(cfg.MaxPayload),
	})
	if err != nil {
		return fmt.Errorf("creating connection server: %w", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.New(eng, cfg.MaxPayload, logger).Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connDone := make(chan error, 1)
	go func() { connDone <- connSrv.Serve(ctx) }()

	httpDone := make(chan error, 1)
	go func() {
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		httpDone <- err
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
	}()

	logger.Info("linastore running", "addr", cfg.Addr, "http_addr", cfg.HTTPAddr, "data_dir", cfg.DataDir)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-connDone; err != nil {
		logger.Error("connection server error", "error", err)
	}
	if err := <-httpDone; err != nil {
		logger.Error("http server error", "error", err)
	}

	return nil
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load()
}

func blobsDir(dataDir string) string {
	return filepath.Join(dataDir, "blobs")
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index.db")
}
