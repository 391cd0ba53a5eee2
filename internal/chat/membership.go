package chat

import (
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/models"
)

// Transition names a membership state change.
type Transition int

const (
	// Stay means the membership did not change.
	Stay Transition = iota
	// Bound is Unbound to Bound.
	Bound
	// Rebound is Bound(a) to Bound(b): a is left before b is joined.
	Rebound
	// Unbound is Bound to Unbound.
	Unbound
)

func (t Transition) String() string {
	switch t {
	case Bound:
		return "bind"
	case Rebound:
		return "rebind"
	case Unbound:
		return "unbind"
	default:
		return "stay"
	}
}

// Membership tracks the single room a chat connection is bound to and
// keeps the broker in step. A connection is either Unbound or Bound to
// exactly one room. Not safe for concurrent use; each connection's read
// loop owns its Membership.
type Membership struct {
	broker   broker.Broker
	sub      broker.Subscriber
	bound    bool
	roomID   uint
	roomType models.RoomType
}

// NewMembership returns an Unbound membership for sub.
func NewMembership(b broker.Broker, sub broker.Subscriber) *Membership {
	return &Membership{broker: b, sub: sub}
}

// Current returns the bound room, if any.
func (m *Membership) Current() (roomID uint, roomType models.RoomType, ok bool) {
	return m.roomID, m.roomType, m.bound
}

// Bind makes roomID the current room.
func (m *Membership) Bind(roomID uint, roomType models.RoomType) Transition {
	switch {
	case m.bound && m.roomID == roomID:
		return Stay
	case m.bound:
		m.broker.Leave(m.sub, m.roomID)
		m.broker.Join(m.sub, roomID)
		m.roomID, m.roomType = roomID, roomType
		return Rebound
	default:
		m.broker.Join(m.sub, roomID)
		m.bound, m.roomID, m.roomType = true, roomID, roomType
		return Bound
	}
}

// Unbind leaves the current room.
func (m *Membership) Unbind() Transition {
	if !m.bound {
		return Stay
	}
	m.broker.Leave(m.sub, m.roomID)
	m.bound, m.roomID, m.roomType = false, 0, ""
	return Unbound
}
