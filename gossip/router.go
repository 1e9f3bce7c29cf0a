// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/simplep2p/docstore/lib/clock"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/wire"
)

// Defaults applied by NewRouter for zero Config fields.
const (
	DefaultHeartbeatInterval = time.Second
	DefaultSeenTTL           = 2 * time.Minute

	// DefaultMaxMessageSize is also the ceiling: a larger payload
	// would not fit a JSON frame.
	DefaultMaxMessageSize = wire.MaxMessageData
)

var (
	// ErrInsufficientPeers is returned by Publish when no connected peer
	// is subscribed to the topic.
	ErrInsufficientPeers = errors.New("no peers subscribed to topic")

	// ErrMessageTooLarge is returned when a payload exceeds the
	// configured maximum.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrUnexpectedFrame is returned by HandleFrame for frame types the
	// router does not process.
	ErrUnexpectedFrame = errors.New("frame is not a gossip frame")
)

// Sender delivers a frame to one peer. Implementations must be safe
// for concurrent use and should not block for long.
type Sender interface {
	SendFrame(frame *wire.Frame) error
}

// EventType names a router event.
type EventType string

const (
	EventSubscribed   EventType = "subscribed"
	EventUnsubscribed EventType = "unsubscribed"
	EventMessage      EventType = "message"
)

// Event reports a change a node may want to surface. Peer is the
// remote peer for subscription events. Message is set for
// EventMessage.
type Event struct {
	Type    EventType
	Topic   string
	Peer    identity.PeerID
	Message *Message
}

// Config configures a Router.
type Config struct {
	// Keypair signs published messages. Required.
	Keypair *identity.Keypair

	HeartbeatInterval time.Duration
	SeenTTL           time.Duration
	MaxMessageSize    int

	// Validator, when set, runs after signature checks. A non-nil
	// error drops the message without delivering or forwarding it.
	Validator func(message *Message) error

	// OnEvent receives router events. It is called without router
	// locks held, on the goroutine that caused the event.
	OnEvent func(Event)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Router is the publish/subscribe state machine for one node.
type Router struct {
	keypair   *identity.Keypair
	heartbeat time.Duration
	maxSize   int
	validator func(*Message) error
	onEvent   func(Event)
	clock     clock.Clock
	logger    *slog.Logger

	mu     sync.Mutex
	topics map[string]struct{}
	peers  map[identity.PeerID]*peerState
	seen   *seenCache
	seqno  uint64
}

type peerState struct {
	sender Sender
	topics map[string]struct{}
}

// NewRouter returns a Router with no peers and no subscriptions.
func NewRouter(config Config) (*Router, error) {
	if config.Keypair == nil {
		return nil, errors.New("gossip router requires a keypair")
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.SeenTTL <= 0 {
		config.SeenTTL = DefaultSeenTTL
	}
	if config.MaxMessageSize <= 0 || config.MaxMessageSize > DefaultMaxMessageSize {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.OnEvent == nil {
		config.OnEvent = func(Event) {}
	}
	return &Router{
		keypair:   config.Keypair,
		heartbeat: config.HeartbeatInterval,
		maxSize:   config.MaxMessageSize,
		validator: config.Validator,
		onEvent:   config.OnEvent,
		clock:     config.Clock,
		logger:    config.Logger,
		topics:    make(map[string]struct{}),
		peers:     make(map[identity.PeerID]*peerState),
		seen:      newSeenCache(config.SeenTTL),
		// Seeding from the clock keeps sequence numbers increasing
		// across restarts with the same identity.
		seqno: uint64(config.Clock.Now().UnixNano()),
	}, nil
}

// Run drives the heartbeat until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.mu.Lock()
			dropped := r.seen.expire(now)
			r.mu.Unlock()
			if dropped > 0 {
				r.logger.Debug("expired seen messages", "count", dropped)
			}
		}
	}
}

// Subscribe joins topic and announces it to every peer. Subscribing to
// a topic already joined does nothing.
func (r *Router) Subscribe(topic string) error {
	return r.setSubscription(topic, true)
}

// Unsubscribe leaves topic and announces it to every peer.
func (r *Router) Unsubscribe(topic string) error {
	return r.setSubscription(topic, false)
}

func (r *Router) setSubscription(topic string, subscribe bool) error {
	if topic == "" {
		return errors.New("topic name is empty")
	}
	if len(topic) > wire.MaxTopicLength {
		return fmt.Errorf("topic name is %d bytes, limit is %d", len(topic), wire.MaxTopicLength)
	}
	r.mu.Lock()
	_, joined := r.topics[topic]
	if joined == subscribe {
		r.mu.Unlock()
		return nil
	}
	if subscribe {
		r.topics[topic] = struct{}{}
	} else {
		delete(r.topics, topic)
	}
	targets := r.sendersLocked(func(identity.PeerID, *peerState) bool { return true })
	r.mu.Unlock()

	frame := &wire.Frame{
		Type:          wire.TypeSubscriptions,
		Subscriptions: []wire.SubscriptionOpt{{Topic: topic, Subscribe: subscribe}},
	}
	r.sendAll(targets, frame)
	return nil
}

// Subscriptions returns the topics this node has joined, sorted.
func (r *Router) Subscriptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// TopicPeers returns the connected peers subscribed to topic, sorted.
func (r *Router) TopicPeers(topic string) []identity.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var peers []identity.PeerID
	for peer, state := range r.peers {
		if _, ok := state.topics[topic]; ok {
			peers = append(peers, peer)
		}
	}
	slices.Sort(peers)
	return peers
}

// Publish signs data as a message on topic and sends it to every peer
// subscribed to the topic.
func (r *Router) Publish(topic string, data []byte) (MessageID, error) {
	if len(data) > r.maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit is %d", ErrMessageTooLarge, len(data), r.maxSize)
	}
	if topic == "" {
		return "", errors.New("topic name is empty")
	}
	if len(topic) > wire.MaxTopicLength {
		return "", fmt.Errorf("topic name is %d bytes, limit is %d", len(topic), wire.MaxTopicLength)
	}

	author := r.keypair.PeerID()
	r.mu.Lock()
	targets := r.sendersLocked(func(_ identity.PeerID, state *peerState) bool {
		_, ok := state.topics[topic]
		return ok
	})
	if len(targets) == 0 {
		r.mu.Unlock()
		return "", fmt.Errorf("%w %q", ErrInsufficientPeers, topic)
	}
	r.seqno++
	message := &wire.Message{
		From:  author.String(),
		Seqno: seqnoBytes(r.seqno),
		Topic: topic,
		Data:  data,
	}
	message.Signature = r.keypair.Sign(message.SigningBytes())
	id, err := ComputeMessageID(message)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.seen.add(id, r.clock.Now())
	r.mu.Unlock()

	r.sendAll(targets, &wire.Frame{Type: wire.TypeMessage, Message: message})
	return id, nil
}

// AddPeer registers a connected peer and announces this node's
// subscriptions to it. Adding a peer that is already registered
// replaces its sender and forgets its announced topics.
func (r *Router) AddPeer(peer identity.PeerID, sender Sender) {
	r.mu.Lock()
	r.peers[peer] = &peerState{sender: sender, topics: make(map[string]struct{})}
	announcements := make([]wire.SubscriptionOpt, 0, len(r.topics))
	for topic := range r.topics {
		announcements = append(announcements, wire.SubscriptionOpt{Topic: topic, Subscribe: true})
	}
	r.mu.Unlock()

	if len(announcements) == 0 {
		return
	}
	slices.SortFunc(announcements, func(a, b wire.SubscriptionOpt) int {
		return cmp.Compare(a.Topic, b.Topic)
	})
	if err := sender.SendFrame(&wire.Frame{Type: wire.TypeSubscriptions, Subscriptions: announcements}); err != nil {
		r.logger.Warn("announcing subscriptions failed", "peer", peer, "error", err)
	}
}

// RemovePeer forgets a peer, emitting EventUnsubscribed for each topic
// it had joined.
func (r *Router) RemovePeer(peer identity.PeerID) {
	r.mu.Lock()
	state, ok := r.peers[peer]
	delete(r.peers, peer)
	r.mu.Unlock()
	if !ok {
		return
	}
	topics := make([]string, 0, len(state.topics))
	for topic := range state.topics {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	for _, topic := range topics {
		r.onEvent(Event{Type: EventUnsubscribed, Topic: topic, Peer: peer})
	}
}

// HandleFrame processes a subscriptions or message frame received from
// peer. Invalid messages are dropped and reported as errors; duplicates
// are dropped silently.
func (r *Router) HandleFrame(from identity.PeerID, frame *wire.Frame) error {
	switch frame.Type {
	case wire.TypeSubscriptions:
		return r.handleSubscriptions(from, frame.Subscriptions)
	case wire.TypeMessage:
		return r.handleMessage(from, frame.Message)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedFrame, frame.Type)
	}
}

func (r *Router) handleSubscriptions(from identity.PeerID, changes []wire.SubscriptionOpt) error {
	var events []Event
	r.mu.Lock()
	state, ok := r.peers[from]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("subscriptions from unknown peer %s", from)
	}
	for _, change := range changes {
		if change.Topic == "" {
			continue
		}
		_, had := state.topics[change.Topic]
		switch {
		case change.Subscribe && !had:
			state.topics[change.Topic] = struct{}{}
			events = append(events, Event{Type: EventSubscribed, Topic: change.Topic, Peer: from})
		case !change.Subscribe && had:
			delete(state.topics, change.Topic)
			events = append(events, Event{Type: EventUnsubscribed, Topic: change.Topic, Peer: from})
		}
	}
	r.mu.Unlock()

	for _, event := range events {
		r.onEvent(event)
	}
	return nil
}

func (r *Router) handleMessage(from identity.PeerID, message *wire.Message) error {
	if message == nil {
		return fmt.Errorf("%w: message frame without message", wire.ErrMalformedFrame)
	}
	if len(message.Seqno) != wire.SeqnoSize {
		return fmt.Errorf("%w: seqno is %d bytes", wire.ErrMalformedFrame, len(message.Seqno))
	}
	if len(message.Data) > r.maxSize {
		return fmt.Errorf("%w: %d bytes from %s", ErrMessageTooLarge, len(message.Data), from)
	}
	if len(message.Topic) > wire.MaxTopicLength {
		return fmt.Errorf("%w: topic is %d bytes", wire.ErrMalformedFrame, len(message.Topic))
	}
	author, err := identity.ParsePeerID(message.From)
	if err != nil {
		return fmt.Errorf("message author: %w", err)
	}
	if err := r.checkSignature(author, message); err != nil {
		return err
	}
	id, err := ComputeMessageID(message)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.seen.has(id) {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	delivered := &Message{
		ID:           id,
		Author:       author,
		Topic:        message.Topic,
		Data:         message.Data,
		Seqno:        binary.BigEndian.Uint64(message.Seqno),
		ReceivedFrom: from,
	}
	if r.validator != nil {
		if err := r.validator(delivered); err != nil {
			return fmt.Errorf("message %s rejected: %w", id, err)
		}
	}

	r.mu.Lock()
	if !r.seen.add(id, r.clock.Now()) {
		// Another link delivered it while validating.
		r.mu.Unlock()
		return nil
	}
	_, subscribed := r.topics[message.Topic]
	targets := r.sendersLocked(func(peer identity.PeerID, state *peerState) bool {
		if peer == from || peer == author {
			return false
		}
		_, ok := state.topics[message.Topic]
		return ok
	})
	r.mu.Unlock()

	if subscribed {
		r.onEvent(Event{Type: EventMessage, Topic: message.Topic, Peer: from, Message: delivered})
	}
	if len(targets) > 0 {
		r.logger.Debug("forwarding message",
			"id", id,
			"topic", message.Topic,
			"peers", len(targets),
		)
		r.sendAll(targets, &wire.Frame{Type: wire.TypeMessage, Message: message})
	}
	return nil
}

func (r *Router) checkSignature(author identity.PeerID, message *wire.Message) error {
	if len(message.Signature) == 0 {
		return fmt.Errorf("unsigned message from %s", author)
	}
	if err := author.Verify(message.SigningBytes(), message.Signature); err != nil {
		return fmt.Errorf("message from %s: %w", author, err)
	}
	return nil
}

type target struct {
	peer   identity.PeerID
	sender Sender
}

// sendersLocked returns the peers accepted by include. Caller holds mu.
func (r *Router) sendersLocked(include func(identity.PeerID, *peerState) bool) []target {
	var targets []target
	for peer, state := range r.peers {
		if include(peer, state) {
			targets = append(targets, target{peer: peer, sender: state.sender})
		}
	}
	return targets
}

func (r *Router) sendAll(targets []target, frame *wire.Frame) {
	for _, target := range targets {
		if err := target.sender.SendFrame(frame); err != nil {
			r.logger.Warn("sending gossip frame failed",
				"peer", target.peer,
				"type", frame.Type,
				"error", err,
			)
		}
	}
}
