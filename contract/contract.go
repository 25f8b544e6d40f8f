//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IdentityProvider resolves a bearer token into the acting user and its capabilities.
type IdentityProvider interface {
	ResolveActor(ctx context.Context, token string) (chat.Actor, error)
}

// IPublisher is the write side of the change dispatcher, used by the store write path.
type IPublisher interface {
	Publish(roomID chat.RoomID, change event.Change)
}

// IRoomCloser ends the live streams of a room once it is deleted.
type IRoomCloser interface {
	CloseRoom(roomID chat.RoomID)
}

type IRoomRepository interface {
	SaveRoom(room chat.Room) error
	GetRoom(id chat.RoomID) (chat.Room, error)
}

type IMessageRepository interface {
	// StoreMessage persists a new message and, when it carries an idempotency key, the key record expiring after ttl.
	StoreMessage(message chat.Message, ttl time.Duration) error
	ReplaceMessage(message chat.Message) error
	DeleteMessage(message chat.Message) error
	GetMessage(id uuid.UUID) (chat.Message, error)
	FindByIdempotencyKey(roomID chat.RoomID, senderID, key string) (chat.Message, bool, error)
	GetMessagesSince(roomID chat.RoomID, cursor chat.Cursor) ([]chat.Message, chat.Cursor, error)
	LastMessage(roomID chat.RoomID) (chat.Message, bool, error)
}
