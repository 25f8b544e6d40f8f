package event

import (
	"time"

	"chat-sync/domain/chat"

	"github.com/google/uuid"
)

type ChangeKind string

const (
	Insert ChangeKind = "INSERT"
	Update ChangeKind = "UPDATE"
	Delete ChangeKind = "DELETE"
	// RoomChanged carries a room snapshot after a rename or a lock toggle.
	RoomChanged ChangeKind = "ROOM"
)

// Change is one entry of a room's ordered event stream.
// Seq is assigned by the dispatcher and increases by one for every event of the room.
type Change struct {
	Kind      ChangeKind    `json:"kind"`
	Room      chat.RoomID   `json:"roomId"`
	Seq       uint64        `json:"seq"`
	Message   *chat.Message `json:"message,omitempty"`
	MessageID uuid.UUID     `json:"messageId"`
	RoomState *chat.Room    `json:"room,omitempty"`
	At        time.Time     `json:"at"`
}

func (c Change) RoomID() chat.RoomID {
	return c.Room
}

func Inserted(m chat.Message, at time.Time) Change {
	return Change{Kind: Insert, Room: m.Room, Message: &m, MessageID: m.ID, At: at}
}

func Updated(m chat.Message, at time.Time) Change {
	return Change{Kind: Update, Room: m.Room, Message: &m, MessageID: m.ID, At: at}
}

func Deleted(room chat.RoomID, id uuid.UUID, at time.Time) Change {
	return Change{Kind: Delete, Room: room, MessageID: id, At: at}
}

func RoomUpdated(r chat.Room, at time.Time) Change {
	return Change{Kind: RoomChanged, Room: r.ID, RoomState: &r, At: at}
}

// Presence is a typing transition broadcast to presence subscribers.
type Presence struct {
	Room   chat.RoomID `json:"roomId"`
	UserID string      `json:"userId"`
	Typing bool        `json:"typing"`
	At     time.Time   `json:"at"`
}

func (p Presence) RoomID() chat.RoomID {
	return p.Room
}
