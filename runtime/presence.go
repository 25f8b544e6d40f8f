package runtime

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/observability"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

const presenceStream = "presence"

// PresenceSubscription receives typing transitions of one room.
// Delivery is lossy: a subscriber that falls behind is dropped and its channel closed.
type PresenceSubscription struct {
	ID     string
	Room   chat.RoomID
	events chan event.Presence
	closed bool
}

func (s *PresenceSubscription) Events() <-chan event.Presence {
	return s.events
}

type presenceKey struct {
	room   chat.RoomID
	userID string
}

type presenceEntry struct {
	entry chat.PresenceEntry
	timer clock.Timer
	gen   uint64
}

// PresenceTracker keeps the ephemeral typing state of every room.
// Each entry owns a timer; when it fires without a refresh the user is
// considered to have stopped typing.
type PresenceTracker struct {
	log     *slog.Logger
	clock   clock.Clock
	ttl     time.Duration
	backlog int
	metrics *observability.Collector

	mu      sync.Mutex
	entries map[presenceKey]*presenceEntry
	subs    map[chat.RoomID]map[string]*PresenceSubscription
}

func NewPresenceTracker(log *slog.Logger, clk clock.Clock, ttl time.Duration, backlog int, metrics *observability.Collector) *PresenceTracker {
	if backlog < 1 {
		backlog = 1
	}
	return &PresenceTracker{
		log:     log,
		clock:   clk,
		ttl:     ttl,
		backlog: backlog,
		metrics: metrics,
		entries: make(map[presenceKey]*presenceEntry),
		subs:    make(map[chat.RoomID]map[string]*PresenceSubscription),
	}
}

// SetTyping records a typing signal. Only transitions are broadcast:
// repeated typing=true signals just push the expiry back.
func (p *PresenceTracker) SetTyping(roomID chat.RoomID, userID string, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := presenceKey{room: roomID, userID: userID}
	now := p.clock.Now()
	current, exists := p.entries[key]

	if !typing {
		if !exists {
			return
		}
		current.timer.Stop()
		delete(p.entries, key)
		p.broadcast(roomID, event.Presence{Room: roomID, UserID: userID, Typing: false, At: now}, "signal")
		return
	}

	if exists {
		current.timer.Stop()
		current.gen++
		current.entry.UpdatedAt = now
		current.timer = p.armTimer(key, current.gen)
		return
	}

	entry := &presenceEntry{entry: chat.PresenceEntry{Room: roomID, UserID: userID, Typing: true, UpdatedAt: now}}
	entry.timer = p.armTimer(key, entry.gen)
	p.entries[key] = entry
	p.broadcast(roomID, event.Presence{Room: roomID, UserID: userID, Typing: true, At: now}, "signal")
}

func (p *PresenceTracker) armTimer(key presenceKey, gen uint64) clock.Timer {
	return p.clock.AfterFunc(p.ttl, func() { p.expire(key, gen) })
}

func (p *PresenceTracker) expire(key presenceKey, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.entries[key]
	// A refresh or an explicit stop happened after this timer was armed.
	if !ok || current.gen != gen {
		return
	}
	delete(p.entries, key)
	p.log.Debug("Typing expired", "room", key.room, "user", key.userID)
	p.broadcast(key.room, event.Presence{Room: key.room, UserID: key.userID, Typing: false, At: p.clock.Now()}, "expired")
}

// Typing returns the users currently typing in roomID, ordered by user id.
func (p *PresenceTracker) Typing(roomID chat.RoomID) []chat.PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(roomID)
}

func (p *PresenceTracker) snapshot(roomID chat.RoomID) []chat.PresenceEntry {
	var typers []chat.PresenceEntry
	for key, e := range p.entries {
		if key.room == roomID {
			typers = append(typers, e.entry)
		}
	}
	sort.Slice(typers, func(i, j int) bool { return typers[i].UserID < typers[j].UserID })
	return typers
}

// SubscribePresence registers a presence consumer. The current typers of the
// room are delivered first, then live transitions.
func (p *PresenceTracker) SubscribePresence(roomID chat.RoomID) *PresenceSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	typers := p.snapshot(roomID)
	sub := &PresenceSubscription{
		ID:     uuid.NewString(),
		Room:   roomID,
		events: make(chan event.Presence, len(typers)+p.backlog),
	}
	for _, e := range typers {
		sub.events <- event.Presence{Room: roomID, UserID: e.UserID, Typing: true, At: e.UpdatedAt}
	}
	if p.subs[roomID] == nil {
		p.subs[roomID] = make(map[string]*PresenceSubscription)
	}
	p.subs[roomID][sub.ID] = sub
	p.metrics.SubscriptionOpened(presenceStream)
	return sub
}

func (p *PresenceTracker) UnsubscribePresence(sub *PresenceSubscription) {
	if sub == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remove(sub)
}

// Stop cancels every pending timer and closes all subscriptions.
func (p *PresenceTracker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		e.timer.Stop()
		delete(p.entries, key)
	}
	for _, room := range p.subs {
		for _, sub := range room {
			p.remove(sub)
		}
	}
}

// CloseRoom forgets the typers of a deleted room without broadcasting
// their stop, and closes its subscriptions.
func (p *PresenceTracker) CloseRoom(roomID chat.RoomID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		if key.room == roomID {
			e.timer.Stop()
			delete(p.entries, key)
		}
	}
	for _, sub := range p.subs[roomID] {
		p.metrics.SubscriptionDropped(presenceStream, "room_deleted")
		p.remove(sub)
	}
}

// Rooms returns how many rooms have presence subscribers.
func (p *PresenceTracker) Rooms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// broadcast expects p.mu to be held.
func (p *PresenceTracker) broadcast(roomID chat.RoomID, change event.Presence, cause string) {
	p.metrics.PresenceTransition(change.Typing, cause)
	for _, sub := range p.subs[roomID] {
		select {
		case sub.events <- change:
		default:
			p.log.Debug("Presence subscriber too slow, dropping", "room", roomID, "subscription", sub.ID)
			p.metrics.SubscriptionDropped(presenceStream, "backlog_full")
			p.remove(sub)
		}
	}
}

// remove expects p.mu to be held.
func (p *PresenceTracker) remove(sub *PresenceSubscription) {
	room, ok := p.subs[sub.Room]
	if !ok {
		return
	}
	if _, ok := room[sub.ID]; !ok {
		return
	}
	delete(room, sub.ID)
	if len(room) == 0 {
		delete(p.subs, sub.Room)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.events)
		p.metrics.SubscriptionClosed(presenceStream)
	}
}
