// Package effects collects the live deliveries a transaction produces so
// they can be dispatched only after it commits.
package effects

import (
	"context"
	"log/slog"

	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/logging"
)

// Target says where an effect is delivered.
type Target uint8

const (
	// ToRoom publishes to every connection joined to a room.
	ToRoom Target = iota
	// ToUser pushes to a user's notification channel.
	ToUser
)

// Effect is one pending delivery.
type Effect struct {
	Target Target
	ID     uint
	Event  broker.Event
}

// Effects is an ordered list of pending deliveries. The zero value is
// ready to use. Not safe for concurrent use.
type Effects struct {
	items []Effect
}

// Broadcast queues ev for every connection in roomID.
func (e *Effects) Broadcast(roomID uint, ev broker.Event) {
	e.items = append(e.items, Effect{Target: ToRoom, ID: roomID, Event: ev})
}

// Push queues ev for userID's notification channel.
func (e *Effects) Push(userID uint, ev broker.Event) {
	e.items = append(e.items, Effect{Target: ToUser, ID: userID, Event: ev})
}

// Items returns the queued effects in order.
func (e *Effects) Items() []Effect {
	if e == nil {
		return nil
	}
	return e.items
}

// Len returns the number of queued effects.
func (e *Effects) Len() int {
	if e == nil {
		return 0
	}
	return len(e.items)
}

// Filter returns the queued effects of the given event type.
func (e *Effects) Filter(eventType string) []Effect {
	var out []Effect
	for _, it := range e.Items() {
		if it.Event.Type == eventType {
			out = append(out, it)
		}
	}
	return out
}

// Dispatcher delivers collected effects through a broker. Delivery is
// best-effort: a failure is logged and never reported to the caller,
// whose transaction has already committed.
type Dispatcher struct {
	broker broker.Broker
	log    *slog.Logger
}

// NewDispatcher returns a dispatcher publishing through b.
func NewDispatcher(b broker.Broker, log *slog.Logger) *Dispatcher {
	return &Dispatcher{broker: b, log: logging.OrDiscard(log)}
}

// Dispatch delivers every effect in order.
func (d *Dispatcher) Dispatch(ctx context.Context, eff *Effects) {
	if d == nil || eff.Len() == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "effect dispatch panicked", "panic", r)
		}
	}()

	var rooms, users int
	for _, it := range eff.items {
		switch it.Target {
		case ToRoom:
			rooms += d.broker.Publish(ctx, it.ID, it.Event)
		case ToUser:
			users += d.broker.PublishUser(ctx, it.ID, it.Event)
		}
	}
	d.log.DebugContext(ctx, "effects dispatched",
		"effects", eff.Len(),
		"room_deliveries", rooms,
		"user_deliveries", users,
	)
}
