// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the chat client's key bindings. Slash commands typed
// into the input (/find, /reconnect, /quit) are handled separately.
type KeyMap struct {
	Submit   key.Binding
	Complete key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Complete: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "complete peer or address"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "scroll down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
}
