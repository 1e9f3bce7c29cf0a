// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/simplep2p/docstore/lib/address"
)

// bootstrap dials the configured bootstrap peers and then looks up the
// local peer to fill the routing table. Entries that cannot be resolved
// or dialed are reported and skipped.
func (n *Node) bootstrap(ctx context.Context) {
	if len(n.config.BootstrapPeers) == 0 {
		return
	}

	var targets []address.Address
	for _, entry := range n.config.BootstrapPeers {
		resolved, err := address.Resolve(ctx, entry, n.config.DNSResolver)
		if err != nil {
			n.reportError(fmt.Errorf("resolving bootstrap peer %s: %w", entry, err))
			continue
		}
		targets = append(targets, resolved...)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	connected := 0
	for _, target := range targets {
		if target.Peer == n.LocalPeer() {
			continue
		}
		if target.Peer != "" {
			n.learnAddresses(target.Peer, []address.Address{target})
		}
		wg.Go(func() {
			peer, err := n.Dial(ctx, target)
			if err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return
				}
				n.reportError(fmt.Errorf("bootstrap dial: %w", err))
				return
			}
			n.logger.Info("bootstrap peer connected", "peer", peer, "address", target.String())
			mu.Lock()
			connected++
			mu.Unlock()
		})
	}
	wg.Wait()

	if connected == 0 || ctx.Err() != nil {
		return
	}
	if _, err := n.FindPeer(ctx, n.LocalPeer()); err != nil && !errors.Is(err, ErrPeerNotFound) && ctx.Err() == nil {
		n.logger.Warn("bootstrap self lookup failed", "error", err)
	}
	n.logger.Info("bootstrap complete", "connected", connected, "routing_table_size", n.table.Len())
}
