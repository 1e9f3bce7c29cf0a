// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
// The node replaces it at runtime when the config file changes.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) used during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig from server URLs such as
// "stun:stun.l.google.com:19302" or "turn:turn.example.org:3478".
// username and credential apply to turn: and turns: URLs only. With no
// URLs the config has no servers, so only host candidates are gathered,
// which is enough for loopback and LAN use.
func ICEConfigFromURLs(urls []string, username, credential string) ICEConfig {
	var stun, turn []string
	for _, url := range urls {
		url = strings.TrimSpace(url)
		switch {
		case url == "":
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			turn = append(turn, url)
		default:
			stun = append(stun, url)
		}
	}

	var config ICEConfig
	if len(stun) > 0 {
		config.Servers = append(config.Servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		config.Servers = append(config.Servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: credential,
		})
	}
	return config
}
