// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/simplep2p/docstore/node"
)

// Theme is the palette of the chat client. Colors are ANSI 256 codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Event kinds in the log.
	MessageColor    lipgloss.Color
	PublishedColor  lipgloss.Color
	ConnectionColor lipgloss.Color
	DiscoveryColor  lipgloss.Color
	ErrorColor      lipgloss.Color

	// Markdown accents.
	HeadingColor lipgloss.Color
	CodeColor    lipgloss.Color
	LinkColor    lipgloss.Color

	// Chrome.
	HeaderForeground lipgloss.Color
	HeaderBackground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
	WarnText         lipgloss.Color
}

// DefaultTheme is the built-in dark palette.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("243"),

	MessageColor:    lipgloss.Color("114"),
	PublishedColor:  lipgloss.Color("110"),
	ConnectionColor: lipgloss.Color("180"),
	DiscoveryColor:  lipgloss.Color("139"),
	ErrorColor:      lipgloss.Color("203"),

	HeadingColor: lipgloss.Color("75"),
	CodeColor:    lipgloss.Color("222"),
	LinkColor:    lipgloss.Color("81"),

	HeaderForeground: lipgloss.Color("255"),
	HeaderBackground: lipgloss.Color("24"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("245"),
	WarnText:         lipgloss.Color("214"),
}

// EventColor is the tag color for an event type.
func (theme Theme) EventColor(eventType node.EventType) lipgloss.Color {
	switch eventType {
	case node.EventMessageReceived:
		return theme.MessageColor
	case node.EventMessagePublished:
		return theme.PublishedColor
	case node.EventConnected, node.EventDisconnected, node.EventListening:
		return theme.ConnectionColor
	case node.EventPeerDiscovery, node.EventIdentify, node.EventSubscribed, node.EventUnsubscribed:
		return theme.DiscoveryColor
	case node.EventError:
		return theme.ErrorColor
	default:
		return theme.FaintText
	}
}
