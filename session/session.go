// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/node"
	"github.com/simplep2p/docstore/transport"
)

// ErrClosed is returned by NextEvent once the session is closed and
// every queued event has been read, and by commands on a closed
// session.
var ErrClosed = errors.New("session closed")

// ErrCommandQueueFull is returned when commands arrive faster than the
// session loop handles them.
var ErrCommandQueueFull = errors.New("session command queue is full")

// commandQueueSize bounds commands waiting for the session loop.
const commandQueueSize = 64

// Options configures a session. Every field is optional.
type Options struct {
	// Signaler carries WebRTC offers. Nil uses HTTP signaling against
	// the server address.
	Signaler transport.Signaler
	ICE      transport.ICEConfig

	// IncludeLoopback gathers loopback ICE candidates, for servers on
	// the same machine.
	IncludeLoopback bool

	// Protocol is the frame protocol requested on WebRTC links.
	Protocol    string
	Compression codec.Compression

	// Topic defaults to node.DefaultTopic.
	Topic string

	AgentVersion string
	DialTimeout  time.Duration

	// Keypair is the session identity. Nil generates an ephemeral one,
	// which is what a browser tab gets.
	Keypair *identity.Keypair

	Clock  clock.Clock
	Logger *slog.Logger
}

type commandKind int

const (
	commandPublish commandKind = iota
	commandFindPeer
)

type command struct {
	kind commandKind
	data []byte
	peer identity.PeerID
}

// Session is a client-role node connected to one server. Commands are
// queued and handled by the session loop; everything the node reports
// is queued as events for NextEvent.
type Session struct {
	node    *node.Node
	address address.Address
	clock   clock.Clock
	logger  *slog.Logger

	commands chan command
	events   *eventQueue

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Open starts a client node with a fresh identity, subscribes it to the
// topic and dials serverAddress. An unparsable address or a failed dial
// is returned; there is no automatic retry.
func Open(ctx context.Context, serverAddress string, options Options) (*Session, error) {
	target, err := address.Parse(serverAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	keypair := options.Keypair
	if keypair == nil {
		keypair, err = identity.Generate()
		if err != nil {
			return nil, err
		}
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("local peer id", "peer_id", keypair.PeerID())

	n, err := node.New(node.Config{
		Keypair:         keypair,
		Role:            node.RoleClient,
		Topic:           options.Topic,
		AgentVersion:    options.AgentVersion,
		ICE:             options.ICE,
		Signaler:        options.Signaler,
		IncludeLoopback: options.IncludeLoopback,
		Protocol:        options.Protocol,
		Compression:     options.Compression,
		DialTimeout:     options.DialTimeout,
		Clock:           clk,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		node:     n,
		address:  target,
		clock:    clk,
		logger:   logger,
		commands: make(chan command, commandQueueSize),
		events:   newEventQueue(),
		cancel:   cancel,
	}

	nodeEvents, cancelEvents := n.Subscribe(256)
	s.wg.Go(func() {
		defer cancelEvents()
		if err := n.Run(runCtx); err != nil {
			logger.Warn("session node stopped", "error", err)
		}
	})
	s.wg.Go(func() {
		for event := range nodeEvents {
			s.events.push(event)
		}
		s.events.close()
	})
	s.wg.Go(func() { s.loop(runCtx) })

	logger.Info("dialing", "address", target.String())
	if _, err := n.Dial(ctx, target); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// PeerID returns the session's peer ID.
func (s *Session) PeerID() identity.PeerID { return s.node.LocalPeer() }

// Address returns the server address the session dialed.
func (s *Session) Address() address.Address { return s.address }

// PublishUpdate queues text for publishing on the topic. The outcome
// arrives as a messagePublished or error event.
func (s *Session) PublishUpdate(text string) error {
	return s.enqueue(command{kind: commandPublish, data: []byte(text)})
}

// FindPeer queues a lookup of peerID. Peers it finds arrive as
// peerDiscovery events.
func (s *Session) FindPeer(peerID string) error {
	peer, err := identity.ParsePeerID(peerID)
	if err != nil {
		return fmt.Errorf("invalid peer id: %w", err)
	}
	return s.enqueue(command{kind: commandFindPeer, peer: peer})
}

func (s *Session) enqueue(cmd command) error {
	select {
	case <-s.node.Done():
		return ErrClosed
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			switch cmd.kind {
			case commandPublish:
				// Node.Publish reports both outcomes as events.
				s.node.Publish(cmd.data)
			case commandFindPeer:
				s.logger.Info("starting find_peer", "target", cmd.peer)
				s.wg.Go(func() { s.findPeer(ctx, cmd.peer) })
			}
		}
	}
}

func (s *Session) findPeer(ctx context.Context, target identity.PeerID) {
	addresses, err := s.node.FindPeer(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.events.push(node.Event{
			Type:    node.EventError,
			Time:    s.clock.Now(),
			PeerID:  target.String(),
			Message: fmt.Sprintf("find peer: %v", err),
		})
		return
	}
	s.logger.Info("find_peer finished", "target", target, "addrs", address.Strings(addresses))
}

// NextEvent returns the next queued event, waiting for one if the queue
// is empty. It returns ErrClosed once the session is closed and the
// queue is drained.
func (s *Session) NextEvent(ctx context.Context) (node.Event, error) {
	return s.events.next(ctx)
}

// TryNextEvent returns the next queued event without waiting. ok is
// false when the queue is empty; err is ErrClosed when it is also
// closed.
func (s *Session) TryNextEvent() (event node.Event, ok bool, err error) {
	return s.events.tryNext()
}

// State is the session's view of the network.
func (s *Session) State() node.Status {
	return s.node.Status()
}

// Close stops the node and the session loop. Queued events stay
// readable.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.node.Close()
		s.wg.Wait()
	})
	return err
}

// eventQueue is an unbounded FIFO of events.
type eventQueue struct {
	mu     sync.Mutex
	items  []node.Event
	closed bool
	ready  chan struct{} // closed and replaced whenever the queue changes
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{})}
}

func (q *eventQueue) push(event node.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, event)
	q.signalLocked()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signalLocked()
	}
}

func (q *eventQueue) signalLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}

func (q *eventQueue) tryNext() (node.Event, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		event := q.items[0]
		q.items[0] = node.Event{}
		q.items = q.items[1:]
		return event, true, nil
	}
	if q.closed {
		return node.Event{}, false, ErrClosed
	}
	return node.Event{}, false, nil
}

func (q *eventQueue) next(ctx context.Context) (node.Event, error) {
	for {
		q.mu.Lock()
		ready := q.ready
		q.mu.Unlock()

		event, ok, err := q.tryNext()
		if ok || err != nil {
			return event, err
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return node.Event{}, ctx.Err()
		}
	}
}
