// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the frames exchanged on a peer link and the
// codecs that serialize them.
//
// A link carries one frame per data channel message (WebRTC) or per
// length-prefixed record (TCP). The data channel protocol string picks
// the codec: native peers negotiate [ProtocolCBOR], the browser harness
// negotiates [ProtocolJSON]. Both codecs share the struct definitions
// in this package.
package wire
