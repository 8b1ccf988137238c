package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 32

var errMissingRoom = errors.New("broadcast: room and event type are required")

// Publisher sends an event to a room. Hub is the production implementation.
type Publisher interface {
	Publish(ctx context.Context, room, eventType string, payload any) error
}

// Subscriber is one connection's inbox. The hub never closes the stream;
// the owning connection stops reading when it shuts down.
type Subscriber struct {
	id     string
	stream chan Envelope
}

// NewSubscriber allocates an inbox with the given buffer size.
func NewSubscriber(id string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Subscriber{id: id, stream: make(chan Envelope, buffer)}
}

// ID returns the subscriber identifier.
func (subscriber *Subscriber) ID() string {
	return subscriber.id
}

// Stream exposes delivered envelopes.
func (subscriber *Subscriber) Stream() <-chan Envelope {
	return subscriber.stream
}

// HubConfig wires the hub dependencies.
type HubConfig struct {
	Logger *zap.Logger
	// Relay, when set, carries every publish between processes. Local
	// delivery then happens only for envelopes coming back from the relay.
	Relay Relay
}

// Hub fans envelopes out to room subscribers.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]*Subscriber
	memberships map[string]map[string]struct{}
	relay       Relay
	logger      *zap.Logger
}

// NewHub constructs a hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:       make(map[string]map[string]*Subscriber),
		memberships: make(map[string]map[string]struct{}),
		relay:       cfg.Relay,
		logger:      logger,
	}
}

// Subscribe adds subscriber to room. Subscribing twice is a no-op.
func (hub *Hub) Subscribe(room string, subscriber *Subscriber) {
	if room == "" || subscriber == nil {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	members, ok := hub.rooms[room]
	if !ok {
		members = make(map[string]*Subscriber)
		hub.rooms[room] = members
	}
	members[subscriber.id] = subscriber

	joined, ok := hub.memberships[subscriber.id]
	if !ok {
		joined = make(map[string]struct{})
		hub.memberships[subscriber.id] = joined
	}
	joined[room] = struct{}{}
}

// Unsubscribe removes subscriberID from room.
func (hub *Hub) Unsubscribe(room, subscriberID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.unsubscribeLocked(room, subscriberID)
}

// UnsubscribeAll removes subscriberID from every room and returns the rooms it left.
func (hub *Hub) UnsubscribeAll(subscriberID string) []string {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	joined := hub.memberships[subscriberID]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
		hub.unsubscribeLocked(room, subscriberID)
	}
	delete(hub.memberships, subscriberID)
	return left
}

// Publish encodes payload and sends it to room. Without a relay the envelope
// is delivered locally right away.
func (hub *Hub) Publish(ctx context.Context, room, eventType string, payload any) error {
	if room == "" || eventType == "" {
		return errMissingRoom
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broadcast: encode %s payload: %w", eventType, err)
	}
	envelope := Envelope{Room: room, Type: eventType, Payload: encoded}
	if hub.relay == nil {
		hub.Deliver(envelope)
		return nil
	}
	if err := hub.relay.Publish(ctx, envelope); err != nil {
		hub.logger.Warn("relay publish failed",
			zap.String("room", room),
			zap.String("event", eventType),
			zap.Error(err))
		return err
	}
	return nil
}

// Deliver hands envelope to every local subscriber of its room without
// blocking. Subscribers with a full buffer miss the event.
func (hub *Hub) Deliver(envelope Envelope) {
	hub.mu.RLock()
	members := hub.rooms[envelope.Room]
	recipients := make([]*Subscriber, 0, len(members))
	for _, subscriber := range members {
		recipients = append(recipients, subscriber)
	}
	hub.mu.RUnlock()

	for _, subscriber := range recipients {
		select {
		case subscriber.stream <- envelope:
		default:
			hub.logger.Debug("subscriber buffer full, event dropped",
				zap.String("subscriber_id", subscriber.id),
				zap.String("room", envelope.Room),
				zap.String("event", envelope.Type))
		}
	}
}

// Start attaches the hub to its relay. The subscription is established before
// Start returns; relayed envelopes are delivered until ctx ends or the relay
// stream closes. Without a relay Start is a no-op.
func (hub *Hub) Start(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	if hub.relay == nil {
		close(done)
		return done, nil
	}
	stream, cancel, err := hub.relay.Subscribe(ctx)
	if err != nil {
		close(done)
		return done, fmt.Errorf("broadcast: relay subscribe: %w", err)
	}
	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case envelope, ok := <-stream:
				if !ok {
					return
				}
				hub.Deliver(envelope)
			}
		}
	}()
	return done, nil
}

func (hub *Hub) unsubscribeLocked(room, subscriberID string) {
	if members, ok := hub.rooms[room]; ok {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(hub.rooms, room)
		}
	}
	if joined, ok := hub.memberships[subscriberID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(hub.memberships, subscriberID)
		}
	}
}
