// Package broker fans events out to live connections. Rooms are keyed by
// their persisted id; user channels carry per-user notifications.
//
// Business code depends on the Broker interface only. Memory is the
// single-process implementation; a distributed backend can satisfy the
// same interface.
package broker

import (
	"context"
	"errors"
)

// Event is an outbound frame. It is serialised as {"type": ..., "data": ...}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Delivery errors returned by Subscriber.Deliver.
var (
	ErrSlowConsumer = errors.New("broker: subscriber queue full")
	ErrClosed       = errors.New("broker: subscriber closed")
)

// Subscriber is one live connection.
type Subscriber interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Deliver queues ev for the connection. It must not block; a
	// subscriber that cannot accept the event returns an error.
	Deliver(ev Event) error
}

// Broker maintains room membership and user notification channels.
type Broker interface {
	Join(sub Subscriber, roomID uint)
	Leave(sub Subscriber, roomID uint)
	// Publish delivers ev to every connection joined to roomID and
	// returns how many accepted it.
	Publish(ctx context.Context, roomID uint, ev Event) int
	SubscribeUser(sub Subscriber, userID uint)
	// PublishUser delivers ev to every connection subscribed under userID.
	PublishUser(ctx context.Context, userID uint, ev Event) int
	// UnsubscribeAll drops every membership of sub. Idempotent.
	UnsubscribeAll(sub Subscriber)
	RoomSize(roomID uint) int
	Stats() Stats
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Rooms        int `json:"rooms"`
	UserChannels int `json:"user_channels"`
	Subscribers  int `json:"subscribers"`
}
