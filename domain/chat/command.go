package chat

import "github.com/google/uuid"

type Command interface {
	RoomID() RoomID
}

type AppendCommand struct {
	Room           RoomID
	Content        string
	IdempotencyKey string
}

func (c AppendCommand) RoomID() RoomID {
	return c.Room
}

type UpdateCommand struct {
	MessageID uuid.UUID
	Content   string
}

type DeleteCommand struct {
	MessageID uuid.UUID
}

type ListCommand struct {
	Room   RoomID
	Cursor Cursor
}

func (c ListCommand) RoomID() RoomID {
	return c.Room
}

// RoomPatch holds the optional fields of a room update.
type RoomPatch struct {
	Name   *string
	Locked *bool
}
