// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP and connection I/O helpers shared by the
// signaling client, the web surface and the link loops.
//
// Response helpers (DecodeResponse, ErrorBody) bound body
// reads at MaxResponseSize. Signaling bodies are one SDP each, a few
// kilobytes, so the bound is small.
//
// IsExpectedCloseError classifies errors that occur during normal link
// teardown so callers can skip logging them.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize bounds JSON response and request body reads: 1 MiB.
const MaxResponseSize int64 = 1 << 20

// DecodeResponse reads a body (up to MaxResponseSize bytes) and
// JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for use in an error
// message. Read errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(writer http.ResponseWriter, status int, v any) error {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// WriteError writes {"error": message} with the given status.
func WriteError(writer http.ResponseWriter, status int, message string) {
	WriteJSON(writer, status, map[string]string{"error": message})
}
