// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the LiNa
// store server and CLI.
//
// Configuration is loaded from a single file specified by either the
// LINASTORE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search.
//
// Variable expansion is performed on the DataDir field after loading:
// ${HOME} and ${VAR:-default} patterns are expanded.
//
// Key exports:
//
//   - [Config] -- master struct with listener addresses, data root,
//     payload limits, and connection timeouts
//   - [Default] -- returns a Config with the server's built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
