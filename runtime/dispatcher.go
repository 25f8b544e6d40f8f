package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

const eventStream = "events"

// Subscription is one consumer of a room's change stream.
// Events are delivered in publication order; the channel is closed when
// the subscription ends and Err tells why.
type Subscription struct {
	ID       string
	Room     chat.RoomID
	StartSeq uint64

	events     chan event.Change
	lastActive atomic.Int64
	clock      clock.Clock

	mu     sync.Mutex
	closed bool
	err    error
}

// Events gives raw access to the backlog. Consumers reading it directly
// are not seen as active by the reaper, use Next instead.
func (s *Subscription) Events() <-chan event.Change {
	return s.events
}

// Next blocks until the next event, the end of the subscription or ctx cancellation.
func (s *Subscription) Next(ctx context.Context) (event.Change, error) {
	s.touch()
	select {
	case <-ctx.Done():
		return event.Change{}, ctx.Err()
	case change, ok := <-s.events:
		if !ok {
			return event.Change{}, s.Err()
		}
		s.touch()
		return change, nil
	}
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) touch() {
	s.lastActive.Store(s.clock.Now().UnixNano())
}

// close must be called with the topic lock held so no publisher sends on a closed channel.
func (s *Subscription) close(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = fmt.Errorf("%w: %s", errors.ErrTransportLost, reason)
	close(s.events)
	return true
}

type topic struct {
	mu   sync.Mutex
	seq  uint64
	subs map[string]*Subscription
}

// Dispatcher fans out committed changes to the subscribers of each room.
// Publishers never block: a subscriber whose backlog is full is dropped
// and has to resync from the store.
type Dispatcher struct {
	log     *slog.Logger
	clock   clock.Clock
	backlog int
	metrics *observability.Collector

	mu     sync.RWMutex
	topics map[chat.RoomID]*topic
}

func NewDispatcher(log *slog.Logger, clk clock.Clock, backlog int, metrics *observability.Collector) *Dispatcher {
	if backlog < 1 {
		backlog = 1
	}
	return &Dispatcher{
		log:     log,
		clock:   clk,
		backlog: backlog,
		metrics: metrics,
		topics:  make(map[chat.RoomID]*topic),
	}
}

func (d *Dispatcher) topic(roomID chat.RoomID) *topic {
	d.mu.RLock()
	t, ok := d.topics[roomID]
	d.mu.RUnlock()
	if ok {
		return t
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok = d.topics[roomID]; ok {
		return t
	}
	t = &topic{subs: make(map[string]*Subscription)}
	d.topics[roomID] = t
	return t
}

// lookup never creates a topic, readers of unknown rooms leave no trace.
func (d *Dispatcher) lookup(roomID chat.RoomID) (*topic, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.topics[roomID]
	return t, ok
}

// Subscribe registers a consumer for roomID. Only events published after
// this call are delivered.
func (d *Dispatcher) Subscribe(roomID chat.RoomID) *Subscription {
	t := d.topic(roomID)
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &Subscription{
		ID:       uuid.NewString(),
		Room:     roomID,
		StartSeq: t.seq,
		events:   make(chan event.Change, d.backlog),
		clock:    d.clock,
	}
	sub.touch()
	t.subs[sub.ID] = sub
	d.metrics.SubscriptionOpened(eventStream)
	d.log.Debug("Subscription opened", "room", roomID, "subscription", sub.ID, "seq", t.seq)
	return sub
}

func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	t, ok := d.lookup(sub.Room)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d.remove(t, sub, "unsubscribed")
}

// Publish stamps the change with the next room sequence number and hands it
// to every subscriber of the room.
func (d *Dispatcher) Publish(roomID chat.RoomID, change event.Change) {
	t := d.topic(roomID)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	change.Room = roomID
	change.Seq = t.seq
	d.metrics.EventPublished(string(change.Kind))

	for _, sub := range t.subs {
		select {
		case sub.events <- change:
		default:
			d.log.Warn("Subscription backlog full, dropping subscriber",
				"room", roomID, "subscription", sub.ID, "backlog", d.backlog)
			d.metrics.SubscriptionDropped(eventStream, "backlog_full")
			d.remove(t, sub, "backlog full")
		}
	}
}

// ReapIdle drops subscriptions that have undelivered events and no consumer
// activity for longer than timeout. It returns how many were dropped.
func (d *Dispatcher) ReapIdle(timeout time.Duration) int {
	now := d.clock.Now().UnixNano()
	reaped := 0
	for _, roomID := range d.rooms() {
		t, ok := d.lookup(roomID)
		if !ok {
			continue
		}
		t.mu.Lock()
		longest := 0
		for _, sub := range t.subs {
			pending := len(sub.events)
			if pending > longest {
				longest = pending
			}
			if pending == 0 || time.Duration(now-sub.lastActive.Load()) <= timeout {
				continue
			}
			d.log.Info("Reaping idle subscription", "room", roomID, "subscription", sub.ID, "pending", pending)
			d.metrics.SubscriptionDropped(eventStream, "idle")
			d.remove(t, sub, "idle consumer")
			reaped++
		}
		t.mu.Unlock()
		d.metrics.SubscriptionBacklog(string(roomID), longest)
	}
	return reaped
}

// Seq returns the sequence number of the last event published to roomID.
func (d *Dispatcher) Seq(roomID chat.RoomID) uint64 {
	t, ok := d.lookup(roomID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Subscribers returns the number of live subscriptions of roomID.
func (d *Dispatcher) Subscribers(roomID chat.RoomID) int {
	t, ok := d.lookup(roomID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// CloseRoom ends every subscription of a room that no longer exists and
// forgets its topic.
func (d *Dispatcher) CloseRoom(roomID chat.RoomID) {
	d.mu.Lock()
	t, ok := d.topics[roomID]
	delete(d.topics, roomID)
	d.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		d.metrics.SubscriptionDropped(eventStream, "room_deleted")
		d.remove(t, sub, "room deleted")
	}
	d.log.Debug("Room topic closed", "room", roomID, "seq", t.seq)
}

// Topics returns how many rooms currently hold a topic.
func (d *Dispatcher) Topics() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics)
}

// Close ends every subscription, used on shutdown.
func (d *Dispatcher) Close() {
	for _, roomID := range d.rooms() {
		t, ok := d.lookup(roomID)
		if !ok {
			continue
		}
		t.mu.Lock()
		for _, sub := range t.subs {
			d.remove(t, sub, "dispatcher closed")
		}
		t.mu.Unlock()
	}
}

func (d *Dispatcher) rooms() []chat.RoomID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]chat.RoomID, 0, len(d.topics))
	for id := range d.topics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// remove expects t.mu to be held.
func (d *Dispatcher) remove(t *topic, sub *Subscription, reason string) {
	if _, ok := t.subs[sub.ID]; !ok {
		return
	}
	delete(t.subs, sub.ID)
	if sub.close(reason) {
		d.metrics.SubscriptionClosed(eventStream)
	}
}
