package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/infrastructure/storage"
	"chat-sync/moderation"
	"chat-sync/runtime"

	"github.com/dgraph-io/badger/v4"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

var (
	alice     = chat.Actor{UserID: "alice", DisplayName: "Alice"}
	bob       = chat.Actor{UserID: "bob", DisplayName: "Bob"}
	carol     = chat.Actor{UserID: "carol", DisplayName: "Carol"}
	moderator = chat.Actor{UserID: "mod", DisplayName: "Mod", IsModerator: true}
)

type fixture struct {
	clock      *testclock.Clock
	dispatcher *runtime.Dispatcher
	presence   *runtime.PresenceTracker
	rooms      *RoomRegistry
	store      *MessageStore
	chat       *ChatService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, censor Censor) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := discardLogger()
	clk := testclock.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	locks := kmutex.New()
	gate := moderation.NewGate(nil)
	dispatcher := runtime.NewDispatcher(log, clk, 256, nil)
	t.Cleanup(dispatcher.Close)
	presence := runtime.NewPresenceTracker(log, clk, 1200*time.Millisecond, 16, nil)
	t.Cleanup(presence.Stop)

	rooms := NewRoomRegistry(log, clk, storage.NewRoomRepository(db, log), gate, dispatcher, locks, 64,
		dispatcher, presence)
	store := NewMessageStore(log, clk, storage.NewMessageRepository(db, log, nil), rooms, gate, dispatcher, locks,
		censor, nil, MessageStoreOptions{MaxContentLength: 280, IdempotencyTTL: time.Hour})
	_, err = rooms.EnsureGeneral(context.Background())
	require.NoError(t, err)

	return &fixture{
		clock:      clk,
		dispatcher: dispatcher,
		presence:   presence,
		rooms:      rooms,
		store:      store,
		chat:       NewChatService(gate, rooms, store, dispatcher, presence),
	}
}

func (f *fixture) groupRoom(t *testing.T) chat.Room {
	t.Helper()
	room, err := f.rooms.CreateRoom(context.Background(), moderator, "R1")
	require.NoError(t, err)
	return room
}

func nextChange(t *testing.T, sub *runtime.Subscription) event.Change {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	change, err := sub.Next(ctx)
	require.NoError(t, err)
	return change
}
