// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for the docstore binaries.
//
// A configuration starts from [Default], merges an optional file (YAML,
// or JSON with comments for .json and .jsonc files), then applies the
// environment: SIGNALING_PORT, BOOTSTRAP_PEERS (comma separated),
// IDENTITY_KEY_PATH and the DOCSTORE_* variables named on each field.
// Path fields expand ${HOME}, ${DOCSTORE_ROOT} and ${VAR:-default}.
//
// [Config.Validate] reports every problem at once. [Watch] reloads a
// file on change so long-running processes can adjust their log level
// without restarting.
//
// This package depends on no other docstore packages.
package config
