// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// linacli is the local-only operator tool for a LiNa store: it opens
// the blob store and name index directly, with no network surface, for
// inspecting and repairing a data directory that a linastore process
// may also have open.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/linastore/lina/internal/blobstore"
	"github.com/linastore/lina/internal/engine"
	"github.com/linastore/lina/internal/nameindex"
	"github.com/linastore/lina/lib/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage()
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "put":
		return runPut(rest)
	case "get":
		return runGet(rest)
	case "delete":
		return runDelete(rest)
	case "stat":
		return runStat(rest)
	case "fsck":
		return runFsck(rest)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", sub)
		printUsage()
		return 2
	}
}

func runPut(args []string) int {
	var configPath, dataDir string
	var cover, compress bool

	flags := pflag.NewFlagSet("linacli put", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to linastore.yaml (overrides LINASTORE_CONFIG)")
	flags.StringVar(&dataDir, "data", "", "data directory root (overrides config)")
	flags.BoolVar(&cover, "cover", false, "overwrite an existing name bound to a different hash")
	flags.BoolVar(&compress, "compress", false, "store the payload DEFLATE-compressed")
	if err := flags.Parse(args); err != nil {
		return flagError(err)
	}

	positional := flags.Args()
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "usage: linacli put [--cover] [--compress] <name> <file>")
		return 2
	}
	name, path := positional[0], positional[1]

	payload, err := readPayload(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading %s: %v\n", path, err)
		return 2
	}

	eng, closeEngine, err := openEngine(configPath, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer closeEngine()

	created, err := eng.Write(context.Background(), name, payload, cover, compress)
	if err != nil {
		return engineErrorExit(err)
	}
	if created {
		fmt.Printf("created %s\n", name)
	} else {
		fmt.Printf("updated %s\n", name)
	}
	return 0
}

func runGet(args []string) int {
	var configPath, dataDir string

	flags := pflag.NewFlagSet("linacli get", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to linastore.yaml (overrides LINASTORE_CONFIG)")
	flags.StringVar(&dataDir, "data", "", "data directory root (overrides config)")
	if err := flags.Parse(args); err != nil {
		return flagError(err)
	}

	positional := flags.Args()
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: linacli get <name>")
		return 2
	}

	eng, closeEngine, err := openEngine(configPath, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer closeEngine()

	payload, err := eng.Read(context.Background(), positional[0])
	if err != nil {
		return engineErrorExit(err)
	}
	if _, err := os.Stdout.Write(payload); err != nil {
		fmt.Fprintf(os.Stderr, "error: writing stdout: %v\n", err)
		return 2
	}
	return 0
}

func runDelete(args []string) int {
	var configPath, dataDir string

	flags := pflag.NewFlagSet("linacli delete", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to linastore.yaml (overrides LINASTORE_CONFIG)")
	flags.StringVar(&dataDir, "data", "", "data directory root (overrides config)")
	if err := flags.Parse(args); err != nil {
		return flagError(err)
	}

	positional := flags.Args()
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: linacli delete <name>")
		return 2
	}

	eng, closeEngine, err := openEngine(configPath, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer closeEngine()

	if err := eng.Delete(context.Background(), positional[0]); err != nil {
		return engineErrorExit(err)
	}
	fmt.Printf("deleted %s\n", positional[0])
	return 0
}

func runStat(args []string) int {
	var configPath, dataDir string

	flags := pflag.NewFlagSet("linacli stat", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to linastore.yaml (overrides LINASTORE_CONFIG)")
	flags.StringVar(&dataDir, "data", "", "data directory root (overrides config)")
	if err := flags.Parse(args); err != nil {
		return flagError(err)
	}

	positional := flags.Args()
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: linacli stat <name>")
		return 2
	}

	eng, closeEngine, err := openEngine(configPath, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer closeEngine()

	result, err := eng.Stat(context.Background(), positional[0])
	if err != nil {
		return engineErrorExit(err)
	}
	fmt.Printf("name:       %s\n", positional[0])
	fmt.Printf("hash:       %s\n", result.Hash)
	fmt.Printf("compressed: %t\n", result.Compressed)
	fmt.Printf("size:       %d\n", result.SizeRaw)
	return 0
}

func runFsck(args []string) int {
	var configPath, dataDir string

	flags := pflag.NewFlagSet("linacli fsck", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to linastore.yaml (overrides LINASTORE_CONFIG)")
	flags.StringVar(&dataDir, "data", "", "data directory root (overrides config)")
	if err := flags.Parse(args); err != nil {
		return flagError(err)
	}

	eng, closeEngine, err := openEngine(configPath, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer closeEngine()

	report, err := eng.Fsck(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	fmt.Printf("blobs checked:  %d\n", report.BlobsChecked)
	fmt.Printf("missing blobs:  %d\n", len(report.MissingBlobs))
	for _, hash := range report.MissingBlobs {
		fmt.Printf("  missing: %s\n", hash)
	}
	fmt.Printf("orphan blobs:   %d\n", len(report.OrphanBlobs))
	for _, hash := range report.OrphanBlobs {
		fmt.Printf("  orphan:  %s\n", hash)
	}

	if len(report.MissingBlobs) > 0 || len(report.OrphanBlobs) > 0 {
		return 1
	}
	return 0
}

func openEngine(configPath, dataDirOverride string) (*engine.Engine, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}

	blobs, err := blobstore.NewStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening blob store: %w", err)
	}
	names, err := nameindex.Open(filepath.Join(cfg.DataDir, "index.db"), cfg.SQLitePoolSize, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening name index: %w", err)
	}

	eng := engine.New(blobs, names, cfg.MaxPayload, nil)
	return eng, func() { names.Close() }, nil
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load()
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// engineErrorExit prints err and returns the exit code matching the
// usual CLI convention: 1 for an operation that simply didn't apply
// (not found, conflicting name, invalid name, payload too large), 2 for
// everything else.
func engineErrorExit(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if errors.Is(err, engine.ErrNotFound) || errors.Is(err, engine.ErrExists) || errors.Is(err, engine.ErrNameInvalid) || errors.Is(err, engine.ErrPayloadTooLarge) {
		return 1
	}
	return 2
}

func flagError(err error) int {
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 2
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `usage: linacli <command> [flags] [args]

commands:
  put [--cover] [--compress] <name> <file>   write file's contents under name
  get <name>                                 print the payload bound to name
  delete <name>                              unbind name, releasing its blob if last referenced
  stat <name>                                print hash, codec, and size for name
  fsck                                       cross-check the index against the blob store

flags (all commands):
  --config PATH   path to linastore.yaml (overrides LINASTORE_CONFIG)
  --data PATH     data directory root (overrides config)
`)
}
