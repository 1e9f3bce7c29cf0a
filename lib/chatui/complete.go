// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"slices"
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
)

// Slab sizes for the fzf matcher: 16-bit and 32-bit scratch space.
const (
	slab16Size = 100 * 1024
	slab32Size = 2048
)

// fuzzyBest returns the candidate fzf scores highest for pattern.
// Candidates are ordered by preference; the earlier one wins a tie.
func fuzzyBest(pattern string, candidates []string, slab *util.Slab) (string, bool) {
	runes := []rune(strings.ToLower(pattern))
	if len(runes) == 0 {
		return "", false
	}
	best, bestScore := "", 0
	for _, candidate := range candidates {
		chars := util.ToChars([]byte(candidate))
		result, _ := algo.FuzzyMatchV2(false, false, true, &chars, runes, false, slab)
		if result.Start >= 0 && result.Score > bestScore {
			best, bestScore = candidate, result.Score
		}
	}
	return best, bestScore > 0
}

// knownPeers lists peer IDs seen in the log, newest first, excluding
// this session's own.
func (model Model) knownPeers() []string {
	var peers []string
	for _, event := range slices.Backward(model.entries) {
		for _, candidate := range []string{event.PeerID, event.Author} {
			if candidate != "" && candidate != model.localPeer && !slices.Contains(peers, candidate) {
				peers = append(peers, candidate)
			}
		}
	}
	return peers
}

// knownAddresses lists dialable locators seen in the log and typed
// before, newest first.
func (model Model) knownAddresses() []string {
	var locators []string
	add := func(text string) {
		parsed, err := address.Parse(text)
		if err != nil || parsed.Transport() == "" || slices.Contains(locators, text) {
			return
		}
		locators = append(locators, text)
	}
	if model.lastAddress != "" {
		add(model.lastAddress)
	}
	for _, event := range slices.Backward(model.entries) {
		for _, text := range event.Addrs {
			add(text)
		}
	}
	if model.initialAddress != "" {
		add(model.initialAddress)
	}
	return locators
}

// complete replaces the word being typed with its best fuzzy match:
// a peer ID after /find, otherwise a locator after /connect or as the
// whole input while disconnected.
func (model Model) complete() Model {
	text := model.input.Value()
	var prefix, word string
	var candidates []string
	switch {
	case strings.HasPrefix(text, "/find "):
		prefix, word = "/find ", strings.TrimSpace(strings.TrimPrefix(text, "/find "))
		candidates = model.knownPeers()
	case strings.HasPrefix(text, "/connect "):
		prefix, word = "/connect ", strings.TrimSpace(strings.TrimPrefix(text, "/connect "))
		candidates = model.knownAddresses()
	case model.phase == phaseDisconnected && !strings.HasPrefix(text, "/"):
		word = strings.TrimSpace(text)
		candidates = model.knownAddresses()
	default:
		return model
	}
	match, ok := fuzzyBest(word, candidates, model.slab)
	if !ok {
		return model
	}
	model.input.SetValue(prefix + match)
	model.input.CursorEnd()
	return model
}

// resolvePeer turns a /find argument into a peer ID. A full peer ID is
// used as is; anything else is fuzzy-matched against known peers.
func (model Model) resolvePeer(argument string) string {
	if _, err := identity.ParsePeerID(argument); err == nil {
		return argument
	}
	if match, ok := fuzzyBest(argument, model.knownPeers(), model.slab); ok {
		return match
	}
	return argument
}
