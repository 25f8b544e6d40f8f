package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/moderation"
	"chat-sync/observability"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
)

type IMessageStore interface {
	Append(ctx context.Context, actor chat.Actor, cmd chat.AppendCommand) (chat.Message, error)
	Update(ctx context.Context, actor chat.Actor, cmd chat.UpdateCommand) (chat.Message, error)
	Delete(ctx context.Context, actor chat.Actor, cmd chat.DeleteCommand) error
	ListSince(ctx context.Context, cmd chat.ListCommand) ([]chat.Message, chat.Cursor, error)
}

// RoomReader is the part of the registry the store depends on.
type RoomReader interface {
	GetRoom(ctx context.Context, id chat.RoomID) (chat.Room, error)
}

// Censor masks forbidden words in message content.
type Censor interface {
	Censor(content string) (string, []string)
}

type MessageStoreOptions struct {
	MaxContentLength int
	IdempotencyTTL   time.Duration
}

// MessageStore owns the message lifecycle. Every write of a room happens
// under that room's lock: identity and timestamp assignment, the storage
// commit and the publication of the change, so the event order of a room is
// its commit order. Nothing is published when the commit fails.
type MessageStore struct {
	log        *slog.Logger
	clock      clock.Clock
	repository contract.IMessageRepository
	rooms      RoomReader
	gate       *moderation.Gate
	publisher  contract.IPublisher
	locks      *kmutex.Kmutex
	censor     Censor
	metrics    *observability.Collector
	options    MessageStoreOptions

	lastMu sync.Mutex
	last   map[chat.RoomID]time.Time
}

func NewMessageStore(log *slog.Logger, clk clock.Clock, repository contract.IMessageRepository,
	rooms RoomReader, gate *moderation.Gate, publisher contract.IPublisher, locks *kmutex.Kmutex,
	censor Censor, metrics *observability.Collector, options MessageStoreOptions) *MessageStore {
	return &MessageStore{
		log:        log,
		clock:      clk,
		repository: repository,
		rooms:      rooms,
		gate:       gate,
		publisher:  publisher,
		locks:      locks,
		censor:     censor,
		metrics:    metrics,
		options:    options,
		last:       make(map[chat.RoomID]time.Time),
	}
}

// Append stores a new message in cmd.Room, the general room when empty.
// A replay of the same (room, sender, idempotency key) returns the stored
// message and publishes nothing.
func (s *MessageStore) Append(ctx context.Context, actor chat.Actor, cmd chat.AppendCommand) (chat.Message, error) {
	content, ok := chat.NormalizeContent(cmd.Content, s.options.MaxContentLength)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: content must be 1 to %d characters", errors.ErrValidation, s.options.MaxContentLength)
	}
	roomID := cmd.Room
	if roomID == "" {
		roomID = chat.GeneralRoomID
	}

	s.locks.Lock(roomID)
	defer s.locks.Unlock(roomID)
	start := time.Now()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return chat.Message{}, err
	}
	if err := s.gate.Authorize(actor, moderation.ActionAppend, room, nil).Err(); err != nil {
		return chat.Message{}, err
	}

	if cmd.IdempotencyKey != "" {
		existing, found, err := s.repository.FindByIdempotencyKey(roomID, actor.UserID, cmd.IdempotencyKey)
		if err != nil {
			return chat.Message{}, err
		}
		if found {
			s.log.Debug("Idempotent replay", "room", roomID, "sender", actor.UserID, "message", existing.ID)
			return existing, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return chat.Message{}, fmt.Errorf("unable to generate message id: %w", err)
	}
	createdAt, err := s.nextTimestamp(roomID)
	if err != nil {
		return chat.Message{}, err
	}
	message := chat.Message{
		ID:                id,
		Room:              roomID,
		SenderID:          actor.UserID,
		SenderDisplayName: actor.DisplayName,
		Content:           s.clean(content),
		CreatedAt:         createdAt,
		IdempotencyKey:    cmd.IdempotencyKey,
	}

	err = s.repository.StoreMessage(message, s.options.IdempotencyTTL)
	s.metrics.MessageWrite("append", err, time.Since(start).Seconds())
	if err != nil {
		return chat.Message{}, fmt.Errorf("unable to store message: %w", err)
	}
	s.remember(roomID, createdAt)
	s.publisher.Publish(roomID, event.Inserted(message, createdAt))
	return message, nil
}

// Update replaces the content of a message, keeping its id and position.
func (s *MessageStore) Update(ctx context.Context, actor chat.Actor, cmd chat.UpdateCommand) (chat.Message, error) {
	content, ok := chat.NormalizeContent(cmd.Content, s.options.MaxContentLength)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: content must be 1 to %d characters", errors.ErrValidation, s.options.MaxContentLength)
	}

	var updated chat.Message
	err := s.withMessage(ctx, actor, moderation.ActionEdit, cmd.MessageID, func(message chat.Message) error {
		editedAt := s.clock.Now().UTC()
		message.Content = s.clean(content)
		message.EditedAt = &editedAt
		start := time.Now()
		err := s.repository.ReplaceMessage(message)
		s.metrics.MessageWrite("update", err, time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("unable to update message: %w", err)
		}
		s.publisher.Publish(message.Room, event.Updated(message, editedAt))
		updated = message
		return nil
	})
	return updated, err
}

// Delete removes a message from every subsequent read.
func (s *MessageStore) Delete(ctx context.Context, actor chat.Actor, cmd chat.DeleteCommand) error {
	return s.withMessage(ctx, actor, moderation.ActionDelete, cmd.MessageID, func(message chat.Message) error {
		start := time.Now()
		err := s.repository.DeleteMessage(message)
		s.metrics.MessageWrite("delete", err, time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("unable to delete message: %w", err)
		}
		s.publisher.Publish(message.Room, event.Deleted(message.Room, message.ID, s.clock.Now().UTC()))
		return nil
	})
}

// ListSince returns the messages of a room strictly after cursor, in
// (CreatedAt, ID) order, and the cursor to continue from.
func (s *MessageStore) ListSince(ctx context.Context, cmd chat.ListCommand) ([]chat.Message, chat.Cursor, error) {
	roomID := cmd.Room
	if roomID == "" {
		roomID = chat.GeneralRoomID
	}
	if !cmd.Cursor.IsZero() {
		if _, _, err := cmd.Cursor.Parse(); err != nil {
			return nil, "", fmt.Errorf("%w: %v", errors.ErrValidation, err)
		}
	}
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, "", err
	}
	return s.repository.GetMessagesSince(roomID, cmd.Cursor)
}

// withMessage loads the target under its room lock, checks the actor may run
// action on it and hands it to write.
func (s *MessageStore) withMessage(ctx context.Context, actor chat.Actor, action moderation.Action,
	id uuid.UUID, write func(message chat.Message) error) error {
	target, err := s.repository.GetMessage(id)
	if err != nil {
		return err
	}
	s.locks.Lock(target.Room)
	defer s.locks.Unlock(target.Room)

	// Reload under the lock, a concurrent delete may have won.
	message, err := s.repository.GetMessage(id)
	if err != nil {
		return err
	}
	room, err := s.rooms.GetRoom(ctx, message.Room)
	if err != nil {
		return err
	}
	if err := s.gate.Authorize(actor, action, room, &message).Err(); err != nil {
		return err
	}
	return write(message)
}

// nextTimestamp returns max(now, last+1ns) for the room. Callers hold the room lock.
func (s *MessageStore) nextTimestamp(roomID chat.RoomID) (time.Time, error) {
	s.lastMu.Lock()
	last, ok := s.last[roomID]
	s.lastMu.Unlock()
	if !ok {
		message, found, err := s.repository.LastMessage(roomID)
		if err != nil {
			return time.Time{}, err
		}
		if found {
			last = message.CreatedAt
		}
	}
	now := s.clock.Now().UTC()
	if !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	return now, nil
}

func (s *MessageStore) remember(roomID chat.RoomID, at time.Time) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.last[roomID] = at
}

func (s *MessageStore) clean(content string) string {
	if s.censor == nil {
		return content
	}
	censored, words := s.censor.Censor(content)
	if len(words) > 0 {
		s.log.Debug("Content censored",
			"words", len(words),
			"lang", whatlanggo.Detect(content).Lang.Iso6391())
	}
	return censored
}
