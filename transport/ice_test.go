// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"
)

func TestICEConfigFromURLs_Empty(t *testing.T) {
	config := ICEConfigFromURLs(nil, "user", "pass")
	if len(config.Servers) != 0 {
		t.Errorf("expected no ICE servers, got %d", len(config.Servers))
	}
	config = ICEConfigFromURLs([]string{"", "  "}, "", "")
	if len(config.Servers) != 0 {
		t.Errorf("expected blank URLs to be skipped, got %d servers", len(config.Servers))
	}
}

func TestICEConfigFromURLs_STUNOnly(t *testing.T) {
	config := ICEConfigFromURLs([]string{"stun:stun.l.google.com:19302"}, "user", "pass")
	if len(config.Servers) != 1 {
		t.Fatalf("expected 1 ICE server entry, got %d", len(config.Servers))
	}
	if config.Servers[0].Username != "" || config.Servers[0].Credential != nil {
		t.Errorf("STUN entry carries credentials: %+v", config.Servers[0])
	}
}

func TestICEConfigFromURLs_WithTURN(t *testing.T) {
	config := ICEConfigFromURLs([]string{
		"stun:stun.example.org:3478",
		"turn:turn.example.org:3478?transport=udp",
		"turns:turn.example.org:5349",
	}, "1234:user", "secret")
	if len(config.Servers) != 2 {
		t.Fatalf("expected 2 ICE server entries, got %d", len(config.Servers))
	}
	turn := config.Servers[1]
	if len(turn.URLs) != 2 {
		t.Errorf("expected 2 TURN URLs, got %d", len(turn.URLs))
	}
	if turn.Username != "1234:user" {
		t.Errorf("username = %q, want %q", turn.Username, "1234:user")
	}
	if turn.Credential != "secret" {
		t.Errorf("credential = %v, want %q", turn.Credential, "secret")
	}
}
