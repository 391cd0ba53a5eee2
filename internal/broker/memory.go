package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/balkashynov/wrokhub/internal/logging"
)

type channelKind uint8

const (
	roomChannel channelKind = iota
	userChannel
)

type channelKey struct {
	kind channelKind
	id   uint
}

// channel is one room or user channel. Each has its own lock so traffic
// on unrelated rooms never contends.
type channel struct {
	mu      sync.RWMutex
	members map[string]Subscriber
	// dead is set once the channel has been emptied and removed from
	// the registry; joiners that raced with removal retry.
	dead bool
}

// subscription is the reverse index of one subscriber's channels.
type subscription struct {
	mu   sync.Mutex
	keys map[channelKey]struct{}
}

// Memory is an in-process Broker.
type Memory struct {
	channels sync.Map // channelKey -> *channel
	subs     sync.Map // subscriber id -> *subscription
	log      *slog.Logger
}

// NewMemory returns an empty in-process broker.
func NewMemory(log *slog.Logger) *Memory {
	return &Memory{log: logging.OrDiscard(log)}
}

// Join adds sub to roomID.
func (m *Memory) Join(sub Subscriber, roomID uint) {
	m.add(sub, channelKey{roomChannel, roomID})
}

// Leave removes sub from roomID.
func (m *Memory) Leave(sub Subscriber, roomID uint) {
	m.remove(sub, channelKey{roomChannel, roomID})
}

// SubscribeUser adds sub to userID's notification channel.
func (m *Memory) SubscribeUser(sub Subscriber, userID uint) {
	m.add(sub, channelKey{userChannel, userID})
}

// Publish delivers ev to every member of roomID.
func (m *Memory) Publish(ctx context.Context, roomID uint, ev Event) int {
	return m.publish(ctx, channelKey{roomChannel, roomID}, ev)
}

// PublishUser delivers ev to every connection subscribed under userID.
func (m *Memory) PublishUser(ctx context.Context, userID uint, ev Event) int {
	return m.publish(ctx, channelKey{userChannel, userID}, ev)
}

// UnsubscribeAll removes sub from every channel it belongs to.
func (m *Memory) UnsubscribeAll(sub Subscriber) {
	v, ok := m.subs.LoadAndDelete(sub.ID())
	if !ok {
		return
	}
	s := v.(*subscription)
	s.mu.Lock()
	keys := make([]channelKey, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	s.keys = map[channelKey]struct{}{}
	s.mu.Unlock()

	for _, k := range keys {
		m.detach(sub, k)
	}
}

// RoomSize returns the number of connections joined to roomID.
func (m *Memory) RoomSize(roomID uint) int {
	v, ok := m.channels.Load(channelKey{roomChannel, roomID})
	if !ok {
		return 0
	}
	ch := v.(*channel)
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// Stats counts live channels and subscribers.
func (m *Memory) Stats() Stats {
	var st Stats
	m.channels.Range(func(k, _ any) bool {
		if k.(channelKey).kind == roomChannel {
			st.Rooms++
		} else {
			st.UserChannels++
		}
		return true
	})
	m.subs.Range(func(_, _ any) bool {
		st.Subscribers++
		return true
	})
	return st
}

func (m *Memory) add(sub Subscriber, key channelKey) {
	for {
		v, _ := m.channels.LoadOrStore(key, &channel{members: map[string]Subscriber{}})
		ch := v.(*channel)
		ch.mu.Lock()
		if ch.dead {
			ch.mu.Unlock()
			continue
		}
		ch.members[sub.ID()] = sub
		ch.mu.Unlock()
		break
	}

	v, _ := m.subs.LoadOrStore(sub.ID(), &subscription{keys: map[channelKey]struct{}{}})
	s := v.(*subscription)
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
}

func (m *Memory) remove(sub Subscriber, key channelKey) {
	if v, ok := m.subs.Load(sub.ID()); ok {
		s := v.(*subscription)
		s.mu.Lock()
		delete(s.keys, key)
		s.mu.Unlock()
	}
	m.detach(sub, key)
}

// detach drops sub from the channel and retires the channel when empty.
func (m *Memory) detach(sub Subscriber, key channelKey) {
	v, ok := m.channels.Load(key)
	if !ok {
		return
	}
	ch := v.(*channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.members, sub.ID())
	if len(ch.members) == 0 && !ch.dead {
		ch.dead = true
		m.channels.CompareAndDelete(key, ch)
	}
}

func (m *Memory) publish(ctx context.Context, key channelKey, ev Event) int {
	v, ok := m.channels.Load(key)
	if !ok {
		return 0
	}
	ch := v.(*channel)
	ch.mu.RLock()
	members := make([]Subscriber, 0, len(ch.members))
	for _, s := range ch.members {
		members = append(members, s)
	}
	ch.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if err := s.Deliver(ev); err != nil {
			m.log.WarnContext(ctx, "event delivery failed",
				"subscriber", s.ID(),
				"event", ev.Type,
				"channel_id", key.id,
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}
