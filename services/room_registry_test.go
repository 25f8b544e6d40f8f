package services

import (
	"context"
	"strings"
	"testing"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"

	"github.com/stretchr/testify/require"
)

func TestRoomRegistry_EnsureGeneralIsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.rooms.GetRoom(ctx, chat.GeneralRoomID)
	req.NoError(err)
	again, err := f.rooms.EnsureGeneral(ctx)
	req.NoError(err)

	req.Equal(chat.KindGeneral, first.Kind)
	req.Equal(first, again)
}

func TestRoomRegistry_CreateRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	// Only moderators create rooms
	_, err := f.rooms.CreateRoom(ctx, alice, "Study group")
	req.ErrorIs(err, errors.ErrUnauthorized)

	room, err := f.rooms.CreateRoom(ctx, moderator, "  Study group ")
	req.NoError(err)
	req.Equal("Study group", room.Name)
	req.Equal(chat.KindGroup, room.Kind)
	req.False(room.Locked)

	// Names are not unique, ids are
	twin, err := f.rooms.CreateRoom(ctx, moderator, "Study group")
	req.NoError(err)
	req.NotEqual(room.ID, twin.ID)

	_, err = f.rooms.CreateRoom(ctx, moderator, "   ")
	req.ErrorIs(err, errors.ErrValidation)
	_, err = f.rooms.CreateRoom(ctx, moderator, strings.Repeat("x", 65))
	req.ErrorIs(err, errors.ErrValidation)
}

func TestRoomRegistry_RenameAndLockPublishRoomEvents(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	room := f.groupRoom(t)
	sub, err := f.chat.JoinRoom(ctx, room.ID)
	req.NoError(err)

	_, err = f.rooms.RenameRoom(ctx, alice, room.ID, "Mine now")
	req.ErrorIs(err, errors.ErrUnauthorized)

	renamed, err := f.rooms.RenameRoom(ctx, moderator, room.ID, "Exam prep")
	req.NoError(err)
	req.Equal("Exam prep", renamed.Name)

	locked, err := f.rooms.SetLocked(ctx, moderator, room.ID, true)
	req.NoError(err)
	req.True(locked.Locked)

	// Locking twice is not a transition
	_, err = f.rooms.SetLocked(ctx, moderator, room.ID, true)
	req.NoError(err)

	first := nextChange(t, sub)
	req.Equal(event.RoomChanged, first.Kind)
	req.Equal("Exam prep", first.RoomState.Name)
	second := nextChange(t, sub)
	req.True(second.RoomState.Locked)
	req.Len(sub.Events(), 0)

	stored, err := f.rooms.GetRoom(ctx, room.ID)
	req.NoError(err)
	req.Equal(locked, stored)
}

func TestRoomRegistry_DeleteRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	room := f.groupRoom(t)
	_, err := f.store.Append(ctx, alice, chat.AppendCommand{Room: room.ID, Content: "bye"})
	req.NoError(err)

	req.ErrorIs(f.rooms.DeleteRoom(ctx, alice, room.ID), errors.ErrUnauthorized)
	req.ErrorIs(f.rooms.DeleteRoom(ctx, moderator, chat.GeneralRoomID), errors.ErrValidation)

	// When a moderator deletes the room
	req.NoError(f.rooms.DeleteRoom(ctx, moderator, room.ID))

	// Then it is inaccessible for reads, sends and subscriptions
	_, err = f.rooms.GetRoom(ctx, room.ID)
	req.ErrorIs(err, errors.ErrNotFound)
	_, err = f.store.Append(ctx, alice, chat.AppendCommand{Room: room.ID, Content: "anyone?"})
	req.ErrorIs(err, errors.ErrNotFound)
	_, _, err = f.store.ListSince(ctx, chat.ListCommand{Room: room.ID})
	req.ErrorIs(err, errors.ErrNotFound)
	_, err = f.chat.JoinRoom(ctx, room.ID)
	req.ErrorIs(err, errors.ErrNotFound)
	req.ErrorIs(f.rooms.DeleteRoom(ctx, moderator, room.ID), errors.ErrNotFound)
}

func TestRoomRegistry_DeleteRoomClosesLiveStreams(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	room := f.groupRoom(t)

	// Given an event subscriber and a presence watcher with bob typing
	sub, err := f.chat.JoinRoom(ctx, room.ID)
	req.NoError(err)
	watcher, err := f.chat.WatchPresence(ctx, room.ID)
	req.NoError(err)
	req.NoError(f.chat.SetTyping(ctx, bob, room.ID, true))
	req.True((<-watcher.Events()).Typing)

	// When a moderator deletes the room
	req.NoError(f.rooms.DeleteRoom(ctx, moderator, room.ID))

	// Then the event stream ends with a lost transport and the topic is gone
	req.Zero(f.dispatcher.Subscribers(room.ID))
	_, err = sub.Next(ctx)
	req.ErrorIs(err, errors.ErrTransportLost)
	req.ErrorIs(sub.Err(), errors.ErrTransportLost)

	// And the presence stream is closed with no typer left behind
	_, ok := <-watcher.Events()
	req.False(ok)
	req.Empty(f.presence.Typing(room.ID))

	// And the general room streams are untouched
	general, err := f.chat.JoinRoom(ctx, chat.GeneralRoomID)
	req.NoError(err)
	defer f.chat.LeaveRoom(general)
	req.Equal(1, f.dispatcher.Subscribers(chat.GeneralRoomID))
}

func TestRoomRegistry_DeleteGeneralRoomChecksRoleFirst(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	// When a regular user tries to delete the general room
	err := f.rooms.DeleteRoom(ctx, alice, chat.GeneralRoomID)

	// Then the refusal is about the role, not the room
	req.ErrorIs(err, errors.ErrUnauthorized)
	req.ErrorIs(f.rooms.DeleteRoom(ctx, moderator, chat.GeneralRoomID), errors.ErrValidation)
}
