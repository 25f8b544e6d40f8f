// Package client keeps a local, reconciled view of a room for one connected user.
package client

import (
	"time"

	"chat-sync/domain/chat"

	"github.com/google/uuid"
)

// OptimisticEntry is a message rendered before the server confirmed it.
type OptimisticEntry struct {
	TempID    string
	Content   string
	SenderID  string
	CreatedAt time.Time
	Room      chat.RoomID
}

// Entry is one rendered line: either pending (Optimistic set) or confirmed (Message set).
type Entry struct {
	Optimistic *OptimisticEntry
	Message    *chat.Message
}

func (e Entry) Pending() bool {
	return e.Optimistic != nil
}

// Timeline holds the entries of a room in visual order.
// Confirmed messages follow (CreatedAt, ID) order; pending entries stay where
// they were rendered and new confirmed messages are placed before them.
// Not safe for concurrent use.
type Timeline struct {
	entries []Entry
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) AddPending(entry OptimisticEntry) {
	t.entries = append(t.entries, Entry{Optimistic: &entry})
}

func (t *Timeline) RemovePending(tempID string) bool {
	i := t.pendingIndex(tempID)
	if i < 0 {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// Promote replaces a pending entry by its confirmed message, keeping its position.
// The message is upserted normally if the entry is gone.
func (t *Timeline) Promote(tempID string, message chat.Message) {
	i := t.pendingIndex(tempID)
	if i < 0 {
		t.Upsert(message)
		return
	}
	if j := t.messageIndex(message.ID); j >= 0 {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
		return
	}
	t.entries[i] = Entry{Message: &message}
}

// Upsert replaces a known message or inserts it at its ordered position.
// It reports whether the message was new.
func (t *Timeline) Upsert(message chat.Message) bool {
	if i := t.messageIndex(message.ID); i >= 0 {
		t.entries[i] = Entry{Message: &message}
		return false
	}
	at := len(t.entries)
	for i, e := range t.entries {
		if e.Pending() || message.Before(*e.Message) {
			at = i
			break
		}
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[at+1:], t.entries[at:])
	t.entries[at] = Entry{Message: &message}
	return true
}

func (t *Timeline) Remove(id uuid.UUID) bool {
	i := t.messageIndex(id)
	if i < 0 {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

func (t *Timeline) Contains(id uuid.UUID) bool {
	return t.messageIndex(id) >= 0
}

// Entries returns a copy of the rendered entries.
func (t *Timeline) Entries() []Entry {
	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	return entries
}

func (t *Timeline) Len() int {
	return len(t.entries)
}

func (t *Timeline) pendingIndex(tempID string) int {
	for i, e := range t.entries {
		if e.Pending() && e.Optimistic.TempID == tempID {
			return i
		}
	}
	return -1
}

func (t *Timeline) messageIndex(id uuid.UUID) int {
	for i, e := range t.entries {
		if !e.Pending() && e.Message.ID == id {
			return i
		}
	}
	return -1
}
