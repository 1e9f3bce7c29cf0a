// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the node's binary encoding: deterministic CBOR
// and the compression envelope used for CBOR link frames.
//
// CBOR uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// frame always produces the same bytes. Types carry `json` tags and are
// shared with the JSON codec the browser harness speaks; fxamacker/cbor
// falls back to json tags when no cbor tag is present.
//
// [Pack] wraps an encoded frame as
//
//	[tag: 1 byte] [uncompressed size: uvarint] [payload]
//
// where tag selects none, lz4 (block) or zstd. Small or incompressible
// payloads are always sent with tag none.
package codec
