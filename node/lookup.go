// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/routing"
	"github.com/simplep2p/docstore/lib/wire"
)

const (
	// lookupAlpha is how many peers are queried in parallel per round.
	lookupAlpha = 3

	// maxLookupRounds bounds an iterative lookup.
	maxLookupRounds = 8

	queryTimeout = 10 * time.Second
)

// ErrPeerNotFound is returned by FindPeer when no queried peer knows
// the target.
var ErrPeerNotFound = errors.New("peer not found")

// lookupTracker matches peers responses to outstanding find_peer
// queries.
type lookupTracker struct {
	mu      sync.Mutex
	pending map[string]*pendingQuery
}

type pendingQuery struct {
	peer     identity.PeerID
	response chan *wire.Peers
}

func newLookupTracker() *lookupTracker {
	return &lookupTracker{pending: make(map[string]*pendingQuery)}
}

func (t *lookupTracker) register(peer identity.PeerID) (string, *pendingQuery) {
	id := uuid.NewString()
	query := &pendingQuery{peer: peer, response: make(chan *wire.Peers, 1)}
	t.mu.Lock()
	t.pending[id] = query
	t.mu.Unlock()
	return id, query
}

func (t *lookupTracker) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// resolve delivers a response. Responses from a peer other than the one
// queried, and responses to unknown queries, are dropped.
func (t *lookupTracker) resolve(from identity.PeerID, peers *wire.Peers) bool {
	t.mu.Lock()
	query, ok := t.pending[peers.QueryID]
	if ok && query.peer == from {
		delete(t.pending, peers.QueryID)
	}
	t.mu.Unlock()
	if !ok || query.peer != from {
		return false
	}
	query.response <- peers
	return true
}

func (t *lookupTracker) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, query := range t.pending {
		delete(t.pending, id)
		close(query.response)
	}
}

// FindPeer looks target up through the overlay and returns its known
// addresses. Connected peers are queried first; full and relay nodes
// also dial the candidates lookups return. Each round queries up to
// three of the closest unqueried candidates and stops when a round
// brings nothing closer.
func (n *Node) FindPeer(ctx context.Context, target identity.PeerID) ([]address.Address, error) {
	if entry, ok := n.table.Find(target); ok && len(entry.Addresses) > 0 {
		n.discover(target, entry.Addresses)
		return entry.Addresses, nil
	}

	key := routing.KeyFor(target)
	candidates := make(map[identity.PeerID][]address.Address)
	for _, entry := range n.table.Closest(key, routing.DefaultBucketSize) {
		candidates[entry.Peer] = entry.Addresses
	}
	for _, peer := range n.ConnectedPeers() {
		if _, ok := candidates[peer]; !ok {
			candidates[peer] = nil
		}
	}

	queried := make(map[identity.PeerID]bool)
	var best routing.Key
	haveBest := false

	for round := 0; round < maxLookupRounds; round++ {
		batch := n.nextCandidates(key, candidates, queried)
		if len(batch) == 0 {
			break
		}

		var mu sync.Mutex
		var found []address.Address
		var wg sync.WaitGroup
		for _, peer := range batch {
			queried[peer] = true
			addresses := candidates[peer]
			wg.Go(func() {
				infos, err := n.queryPeer(ctx, peer, addresses, target)
				if err != nil {
					n.logger.Debug("find_peer query failed", "peer", peer, "target", target, "error", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				for _, info := range infos {
					if info.peer == n.LocalPeer() {
						continue
					}
					if info.peer == target {
						found = append(found, info.addresses...)
					}
					candidates[info.peer] = mergeAddressLists(candidates[info.peer], info.addresses)
				}
			})
		}
		wg.Wait()

		if len(found) > 0 {
			n.discover(target, found)
			return found, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		closest := closestKey(key, candidates)
		if haveBest && !routing.Closer(closest, best, key) {
			break
		}
		best, haveBest = closest, true
	}
	return nil, fmt.Errorf("find %s: %w", target, ErrPeerNotFound)
}

// nextCandidates returns up to lookupAlpha unqueried candidates closest
// to key that can be queried now.
func (n *Node) nextCandidates(key routing.Key, candidates map[identity.PeerID][]address.Address, queried map[identity.PeerID]bool) []identity.PeerID {
	entries := make([]routing.Entry, 0, len(candidates))
	for peer, addresses := range candidates {
		if queried[peer] || peer == n.LocalPeer() {
			continue
		}
		if n.link(peer) == nil && (!n.config.Role.servesLookups() || !hasDialable(addresses)) {
			continue
		}
		entries = append(entries, routing.Entry{Peer: peer, Key: routing.KeyFor(peer)})
	}
	routing.SortByDistance(entries, key)
	batch := make([]identity.PeerID, 0, lookupAlpha)
	for _, entry := range entries {
		batch = append(batch, entry.Peer)
		if len(batch) == lookupAlpha {
			break
		}
	}
	return batch
}

type peerInfo struct {
	peer      identity.PeerID
	addresses []address.Address
}

// queryPeer sends find_peer to peer, dialing it first when it is not
// connected, and waits for the response.
func (n *Node) queryPeer(ctx context.Context, peer identity.PeerID, addresses []address.Address, target identity.PeerID) ([]peerInfo, error) {
	pl := n.link(peer)
	if pl == nil {
		var errs []error
		for _, candidate := range addresses {
			if candidate.Transport() == "" {
				continue
			}
			if _, err := n.Dial(ctx, candidate.WithPeer(peer)); err != nil {
				errs = append(errs, err)
				continue
			}
			break
		}
		if pl = n.link(peer); pl == nil {
			return nil, fmt.Errorf("no link to %s: %w", peer, errors.Join(errs...))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	id, query := n.lookups.register(peer)
	defer n.lookups.forget(id)
	if err := pl.SendFrame(&wire.Frame{
		Type:     wire.TypeFindPeer,
		FindPeer: &wire.FindPeer{QueryID: id, Target: target.String()},
	}); err != nil {
		return nil, err
	}

	var response *wire.Peers
	select {
	case response = <-query.response:
		if response == nil {
			return nil, ErrClosed
		}
	case <-pl.link.Done():
		return nil, fmt.Errorf("link to %s closed during lookup", peer)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	infos := make([]peerInfo, 0, len(response.Peers))
	for _, entry := range response.Peers {
		id, err := identity.ParsePeerID(entry.ID)
		if err != nil {
			n.logger.Debug("ignoring invalid peer in lookup response", "from", peer, "peer", entry.ID, "error", err)
			continue
		}
		var parsed []address.Address
		for _, text := range entry.Addrs {
			addr, err := address.Parse(text)
			if err != nil || (addr.Peer != "" && addr.Peer != id) {
				continue
			}
			parsed = append(parsed, addr.WithPeer(id))
		}
		if id != n.LocalPeer() {
			n.learnAddresses(id, parsed)
			n.discover(id, parsed)
		}
		infos = append(infos, peerInfo{peer: id, addresses: parsed})
	}
	return infos, nil
}

// discover records peer as discovered and emits peerDiscovery the first
// time it is seen or when its addresses change.
func (n *Node) discover(peer identity.PeerID, addresses []address.Address) {
	n.mu.Lock()
	known, ok := n.discovered[peer]
	merged := mergeAddressLists(known, addresses)
	changed := !ok || len(merged) != len(known)
	n.discovered[peer] = merged
	n.mu.Unlock()
	if changed {
		n.emit(Event{Type: EventPeerDiscovery, PeerID: peer.String(), Addrs: address.Strings(merged)})
	}
}

func hasDialable(addresses []address.Address) bool {
	for _, candidate := range addresses {
		if candidate.Transport() != "" {
			return true
		}
	}
	return false
}

func closestKey(target routing.Key, candidates map[identity.PeerID][]address.Address) routing.Key {
	var best routing.Key
	first := true
	for peer := range candidates {
		key := routing.KeyFor(peer)
		if first || routing.Closer(key, best, target) {
			best, first = key, false
		}
	}
	return best
}

func mergeAddressLists(known, added []address.Address) []address.Address {
	merged := slices.Clone(known)
	for _, candidate := range added {
		duplicate := false
		for _, existing := range merged {
			if existing.Equal(candidate) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			merged = append(merged, candidate)
		}
	}
	return merged
}
