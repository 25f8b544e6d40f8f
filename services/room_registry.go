package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/moderation"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
)

type IRoomRegistry interface {
	EnsureGeneral(ctx context.Context) (chat.Room, error)
	CreateRoom(ctx context.Context, actor chat.Actor, name string) (chat.Room, error)
	RenameRoom(ctx context.Context, actor chat.Actor, id chat.RoomID, name string) (chat.Room, error)
	SetLocked(ctx context.Context, actor chat.Actor, id chat.RoomID, locked bool) (chat.Room, error)
	DeleteRoom(ctx context.Context, actor chat.Actor, id chat.RoomID) error
	GetRoom(ctx context.Context, id chat.RoomID) (chat.Room, error)
}

// RoomRegistry owns the room lifecycle. Rooms are read through an in-memory
// cache backed by the room repository.
// Mutations of a room take the same per-room lock as message writes, so an
// append either sees the room before a lock toggle or after it.
type RoomRegistry struct {
	log           *slog.Logger
	clock         clock.Clock
	repository    contract.IRoomRepository
	gate          *moderation.Gate
	publisher     contract.IPublisher
	locks         *kmutex.Kmutex
	maxNameLength int
	closers       []contract.IRoomCloser

	mu    sync.RWMutex
	cache map[chat.RoomID]chat.Room
}

func NewRoomRegistry(log *slog.Logger, clk clock.Clock, repository contract.IRoomRepository,
	gate *moderation.Gate, publisher contract.IPublisher, locks *kmutex.Kmutex, maxNameLength int,
	closers ...contract.IRoomCloser) *RoomRegistry {
	return &RoomRegistry{
		log:           log,
		clock:         clk,
		repository:    repository,
		gate:          gate,
		publisher:     publisher,
		locks:         locks,
		maxNameLength: maxNameLength,
		closers:       closers,
		cache:         make(map[chat.RoomID]chat.Room),
	}
}

// EnsureGeneral creates the general room on first start.
func (r *RoomRegistry) EnsureGeneral(ctx context.Context) (chat.Room, error) {
	r.locks.Lock(chat.GeneralRoomID)
	defer r.locks.Unlock(chat.GeneralRoomID)

	room, err := r.load(chat.GeneralRoomID)
	if err == nil {
		return room, nil
	}
	if !stderrors.Is(err, errors.ErrNotFound) {
		return chat.Room{}, err
	}
	room = chat.NewGeneralRoom(r.clock.Now().UTC())
	if err := r.save(room); err != nil {
		return chat.Room{}, err
	}
	r.log.Info("General room created", "room", room.ID)
	return room, nil
}

func (r *RoomRegistry) CreateRoom(ctx context.Context, actor chat.Actor, name string) (chat.Room, error) {
	if err := r.gate.Authorize(actor, moderation.ActionManageRoom, chat.Room{}, nil).Err(); err != nil {
		return chat.Room{}, err
	}
	normalized, ok := chat.NormalizeRoomName(name, r.maxNameLength)
	if !ok {
		return chat.Room{}, fmt.Errorf("%w: room name must be 1 to %d characters", errors.ErrValidation, r.maxNameLength)
	}
	room := chat.NewGroupRoom(chat.RoomID(uuid.NewString()), normalized, r.clock.Now().UTC())
	if err := r.save(room); err != nil {
		return chat.Room{}, err
	}
	r.log.Info("Room created", "room", room.ID, "name", room.Name, "by", actor.UserID)
	return room, nil
}

func (r *RoomRegistry) RenameRoom(ctx context.Context, actor chat.Actor, id chat.RoomID, name string) (chat.Room, error) {
	normalized, ok := chat.NormalizeRoomName(name, r.maxNameLength)
	if !ok {
		return chat.Room{}, fmt.Errorf("%w: room name must be 1 to %d characters", errors.ErrValidation, r.maxNameLength)
	}
	return r.mutate(ctx, actor, id, func(room *chat.Room) bool {
		if room.Name == normalized {
			return false
		}
		room.Name = normalized
		return true
	})
}

func (r *RoomRegistry) SetLocked(ctx context.Context, actor chat.Actor, id chat.RoomID, locked bool) (chat.Room, error) {
	return r.mutate(ctx, actor, id, func(room *chat.Room) bool {
		if room.Locked == locked {
			return false
		}
		room.Locked = locked
		return true
	})
}

// DeleteRoom soft deletes a group room. Its messages are kept in storage but
// the room no longer accepts sends nor reads, and its live streams are closed.
func (r *RoomRegistry) DeleteRoom(ctx context.Context, actor chat.Actor, id chat.RoomID) error {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)

	room, err := r.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if err := r.gate.Authorize(actor, moderation.ActionManageRoom, room, nil).Err(); err != nil {
		return err
	}
	if room.ID == chat.GeneralRoomID {
		return fmt.Errorf("%w: the general room cannot be deleted", errors.ErrValidation)
	}
	now := r.clock.Now().UTC()
	room.DeletedAt = &now
	if err := r.save(room); err != nil {
		return err
	}
	for _, closer := range r.closers {
		closer.CloseRoom(id)
	}
	r.log.Info("Room deleted", "room", id, "by", actor.UserID)
	return nil
}

// GetRoom returns ErrNotFound for unknown and deleted rooms alike.
func (r *RoomRegistry) GetRoom(ctx context.Context, id chat.RoomID) (chat.Room, error) {
	room, err := r.load(id)
	if err != nil {
		return chat.Room{}, err
	}
	if room.IsDeleted() {
		return chat.Room{}, fmt.Errorf("%w: room %s", errors.ErrNotFound, id)
	}
	return room, nil
}

// mutate applies change under the room lock and publishes the new room state
// when something actually changed.
func (r *RoomRegistry) mutate(ctx context.Context, actor chat.Actor, id chat.RoomID, change func(room *chat.Room) bool) (chat.Room, error) {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)

	room, err := r.GetRoom(ctx, id)
	if err != nil {
		return chat.Room{}, err
	}
	if err := r.gate.Authorize(actor, moderation.ActionManageRoom, room, nil).Err(); err != nil {
		return chat.Room{}, err
	}
	if !change(&room) {
		return room, nil
	}
	if err := r.save(room); err != nil {
		return chat.Room{}, err
	}
	r.publisher.Publish(room.ID, event.RoomUpdated(room, r.clock.Now().UTC()))
	r.log.Info("Room updated", "room", room.ID, "name", room.Name, "locked", room.Locked, "by", actor.UserID)
	return room, nil
}

func (r *RoomRegistry) load(id chat.RoomID) (chat.Room, error) {
	r.mu.RLock()
	room, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return room, nil
	}
	room, err := r.repository.GetRoom(id)
	if err != nil {
		return chat.Room{}, err
	}
	r.mu.Lock()
	r.cache[id] = room
	r.mu.Unlock()
	return room, nil
}

func (r *RoomRegistry) save(room chat.Room) error {
	if err := r.repository.SaveRoom(room); err != nil {
		return fmt.Errorf("unable to save room %s: %w", room.ID, err)
	}
	r.mu.Lock()
	r.cache[room.ID] = room
	r.mu.Unlock()
	return nil
}
