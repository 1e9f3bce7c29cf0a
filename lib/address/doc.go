// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package address parses and formats the slash-separated network
// locators users paste to connect to a node.
//
// A locator names a host, a port and transport, optionally the SHA-256
// of the server's DTLS certificate (certhash, a multibase multihash) and
// the server's peer ID. Dialers pin the certificate and authenticate the
// peer with the values they find here. /dnsaddr locators are resolved
// through TXT records with [Resolve].
package address
