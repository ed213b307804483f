// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the push agent's configuration file.
//
// The file is named by --config or, failing that, the
// CACHEPUSH_CONFIG environment variable. There is no search path and
// no per-field environment override: what the file says is what the
// agent does. YAML (.yaml, .yml) and JSON with comments (.json,
// .jsonc) are both accepted; JSONC is stripped to plain JSON with
// tidwall/jsonc and then decoded by the same YAML decoder, so both
// formats share one set of field names.
//
// Path fields expand ${VAR} and ${VAR:-default}. ${STATE_DIRECTORY}
// (set by systemd's StateDirectory=) and ${HOME} resolve from the
// environment; ${CACHEPUSH_STATE} resolves to the configured
// state_directory so dependent paths can be written relative to it.
//
// A loaded [Config] is never mutated. Components receive the pieces
// they need through their constructors.
//
// Key exports:
//
//   - [Config], [CacheTarget] -- the file's schema
//   - [Default] -- every field populated with its default
//   - [Load], [LoadFile] -- read, expand, and validate
package config
