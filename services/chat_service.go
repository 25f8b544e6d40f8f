package services

import (
	"context"
	"fmt"

	"chat-sync/domain/chat"
	"chat-sync/errors"
	"chat-sync/moderation"
	"chat-sync/runtime"
)

type IChatService interface {
	IRoomRegistry
	IMessageStore
	ResolveActor(ctx context.Context, token string) (chat.Actor, error)
	JoinRoom(ctx context.Context, roomID chat.RoomID) (*runtime.Subscription, error)
	LeaveRoom(sub *runtime.Subscription)
	WatchPresence(ctx context.Context, roomID chat.RoomID) (*runtime.PresenceSubscription, error)
	StopWatchingPresence(sub *runtime.PresenceSubscription)
	SetTyping(ctx context.Context, actor chat.Actor, roomID chat.RoomID, typing bool) error
	UpdateRoom(ctx context.Context, actor chat.Actor, id chat.RoomID, patch chat.RoomPatch) (chat.Room, error)
}

// ChatService is the single entry point of the transport layer.
type ChatService struct {
	IRoomRegistry
	IMessageStore
	gate       *moderation.Gate
	dispatcher *runtime.Dispatcher
	presence   *runtime.PresenceTracker
}

func NewChatService(gate *moderation.Gate, rooms IRoomRegistry, store IMessageStore,
	dispatcher *runtime.Dispatcher, presence *runtime.PresenceTracker) *ChatService {
	return &ChatService{
		IRoomRegistry: rooms,
		IMessageStore: store,
		gate:          gate,
		dispatcher:    dispatcher,
		presence:      presence,
	}
}

func (s *ChatService) ResolveActor(ctx context.Context, token string) (chat.Actor, error) {
	return s.gate.ResolveActor(ctx, token)
}

// JoinRoom subscribes to the change stream of an existing room.
// History is not replayed, callers load it with ListSince.
func (s *ChatService) JoinRoom(ctx context.Context, roomID chat.RoomID) (*runtime.Subscription, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	sub := s.dispatcher.Subscribe(roomID)
	// The room may have been deleted between the check and the subscription.
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		s.dispatcher.CloseRoom(roomID)
		return nil, err
	}
	return sub, nil
}

func (s *ChatService) LeaveRoom(sub *runtime.Subscription) {
	s.dispatcher.Unsubscribe(sub)
}

func (s *ChatService) WatchPresence(ctx context.Context, roomID chat.RoomID) (*runtime.PresenceSubscription, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	sub := s.presence.SubscribePresence(roomID)
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		s.presence.CloseRoom(roomID)
		return nil, err
	}
	return sub, nil
}

func (s *ChatService) StopWatchingPresence(sub *runtime.PresenceSubscription) {
	s.presence.UnsubscribePresence(sub)
}

func (s *ChatService) SetTyping(ctx context.Context, actor chat.Actor, roomID chat.RoomID, typing bool) error {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return err
	}
	s.presence.SetTyping(roomID, actor.UserID, typing)
	return nil
}

// UpdateRoom applies the rename first, then the lock toggle.
func (s *ChatService) UpdateRoom(ctx context.Context, actor chat.Actor, id chat.RoomID, patch chat.RoomPatch) (chat.Room, error) {
	if patch.Name == nil && patch.Locked == nil {
		return chat.Room{}, fmt.Errorf("%w: nothing to update", errors.ErrValidation)
	}
	var (
		room chat.Room
		err  error
	)
	if patch.Name != nil {
		if room, err = s.RenameRoom(ctx, actor, id, *patch.Name); err != nil {
			return chat.Room{}, err
		}
	}
	if patch.Locked != nil {
		if room, err = s.SetLocked(ctx, actor, id, *patch.Locked); err != nil {
			return chat.Room{}, err
		}
	}
	return room, nil
}
