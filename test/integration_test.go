package test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/infrastructure/storage"
	"chat-sync/moderation"
	"chat-sync/observability"
	"chat-sync/runtime"
	"chat-sync/runtime/workers"
	"chat-sync/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock/testclock"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const (
	typingTTL      = 1200 * time.Millisecond
	reaperInterval = 10 * time.Second
	idleTimeout    = 15 * time.Second
)

var (
	userA     = chat.Actor{UserID: "A", DisplayName: "A"}
	userB     = chat.Actor{UserID: "B", DisplayName: "B"}
	userC     = chat.Actor{UserID: "C", DisplayName: "C"}
	moderator = chat.Actor{UserID: "M", DisplayName: "M", IsModerator: true}
)

type stack struct {
	clock      *testclock.Clock
	dispatcher *runtime.Dispatcher
	chat       *services.ChatService
}

// newStack wires the components the way the server binary does, on a disk-backed badger.
func newStack(t *testing.T) *stack {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)

	log := logs.GetLoggerFromLevel(slog.LevelError)
	clk := testclock.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	metrics := observability.NewMetricsCollector()
	locks := kmutex.New()
	gate := moderation.NewGate(nil)
	dispatcher := runtime.NewDispatcher(log, clk, 64, metrics)
	presence := runtime.NewPresenceTracker(log, clk, typingTTL, 16, metrics)
	rooms := services.NewRoomRegistry(log, clk, storage.NewRoomRepository(db, log), gate, dispatcher, locks, 64,
		dispatcher, presence)
	store := services.NewMessageStore(log, clk, storage.NewMessageRepository(db, log, lo.ToPtr(100)), rooms, gate,
		dispatcher, locks, nil, metrics, services.MessageStoreOptions{MaxContentLength: 280, IdempotencyTTL: time.Hour})
	_, err = rooms.EnsureGeneral(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	supervisor := workers.NewSupervisor(log, 200*time.Millisecond, metrics)
	supervisor.Add(workers.NewSubscriptionReaperWorker(log, clk, dispatcher, reaperInterval, idleTimeout))
	done := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(done)
	}()

	// Clean everything at the end of the test
	t.Cleanup(func() {
		cancel()
		<-done
		presence.Stop()
		dispatcher.Close()
		_ = db.Close()
	})
	return &stack{clock: clk, dispatcher: dispatcher, chat: services.NewChatService(gate, rooms, store, dispatcher, presence)}
}

func next(t *testing.T, sub *runtime.Subscription) event.Change {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	change, err := sub.Next(ctx)
	require.NoError(t, err)
	return change
}

func Test_Scenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newStack(t)

	room, err := s.chat.CreateRoom(ctx, moderator, "R1")
	req.NoError(err)
	subB, err := s.chat.JoinRoom(ctx, room.ID)
	req.NoError(err)
	defer s.chat.LeaveRoom(subB)
	// The room stream also carries room changes, keep only message events
	nextMessageEvent := func() event.Change {
		for {
			change := next(t, subB)
			if change.Kind != event.RoomChanged {
				return change
			}
		}
	}

	// 1. A sends "hello", B's stream yields the INSERT
	hello, err := s.chat.Append(ctx, userA, chat.AppendCommand{Room: room.ID, Content: "hello"})
	req.NoError(err)
	inserted := nextMessageEvent()
	req.Equal(event.Insert, inserted.Kind)
	req.Equal(hello.ID, inserted.MessageID)

	// 2. The moderator locks R1, A is refused and the message set is unchanged
	_, err = s.chat.SetLocked(ctx, moderator, room.ID, true)
	req.NoError(err)
	_, err = s.chat.Append(ctx, userA, chat.AppendCommand{Room: room.ID, Content: "ignored"})
	req.ErrorIs(err, errors.ErrLocked)
	messages, _, err := s.chat.ListSince(ctx, chat.ListCommand{Room: room.ID})
	req.NoError(err)
	req.Len(messages, 1)
	_, err = s.chat.SetLocked(ctx, moderator, room.ID, false)
	req.NoError(err)

	// 3. A edits the message, an UPDATE with editedAt is emitted
	_, err = s.chat.Update(ctx, userA, chat.UpdateCommand{MessageID: hello.ID, Content: "hello world"})
	req.NoError(err)
	updated := nextMessageEvent()
	req.Equal(event.Update, updated.Kind)
	req.Equal("hello world", updated.Message.Content)
	req.NotNil(updated.Message.EditedAt)

	// 4. C cannot delete it
	err = s.chat.Delete(ctx, userC, chat.DeleteCommand{MessageID: hello.ID})
	req.ErrorIs(err, errors.ErrUnauthorized)
	messages, _, err = s.chat.ListSince(ctx, chat.ListCommand{Room: room.ID})
	req.NoError(err)
	req.Len(messages, 1)

	// 5. A types then pauses, the typing=false transition comes without any stop
	presence, err := s.chat.WatchPresence(ctx, room.ID)
	req.NoError(err)
	defer s.chat.StopWatchingPresence(presence)
	req.NoError(s.chat.SetTyping(ctx, userA, room.ID, true))
	req.True((<-presence.Events()).Typing)
	s.clock.Advance(typingTTL)
	select {
	case p := <-presence.Events():
		req.Equal("A", p.UserID)
		req.False(p.Typing)
	case <-time.After(2 * time.Second):
		req.Fail("Timeout: typing never decayed")
	}
}

func Test_IdleSubscriberIsReapedAndResyncs(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newStack(t)

	// Given B following the general room and an uninterrupted watcher
	stalled, err := s.chat.JoinRoom(ctx, chat.GeneralRoomID)
	req.NoError(err)
	watcher, err := s.chat.JoinRoom(ctx, chat.GeneralRoomID)
	req.NoError(err)
	defer s.chat.LeaveRoom(watcher)

	first, err := s.chat.Append(ctx, userA, chat.AppendCommand{Content: "first"})
	req.NoError(err)
	req.Equal(first.ID, next(t, stalled).MessageID)
	req.Equal(first.ID, next(t, watcher).MessageID)
	cursor := first.Cursor()

	// When B stops consuming while messages keep coming, past the idle timeout
	for _, content := range []string{"second", "third"} {
		_, err := s.chat.Append(ctx, userB, chat.AppendCommand{Content: content})
		req.NoError(err)
	}
	var seen []chat.Message
	for range 2 {
		seen = append(seen, *next(t, watcher).Message)
	}
	req.NoError(s.clock.WaitAdvance(reaperInterval, 2*time.Second, 1))
	req.NoError(s.clock.WaitAdvance(reaperInterval, 2*time.Second, 1))

	// Then the supervised reaper drops the stalled subscription
	req.Eventually(func() bool {
		return s.dispatcher.Subscribers(chat.GeneralRoomID) == 1
	}, 2*time.Second, 10*time.Millisecond)
	for {
		if _, err := stalled.Next(ctx); err != nil {
			req.ErrorIs(err, errors.ErrTransportLost)
			break
		}
	}

	// And a resync from the last cursor matches the uninterrupted view
	resynced, _, err := s.chat.ListSince(ctx, chat.ListCommand{Cursor: cursor})
	req.NoError(err)
	req.Equal(lo.Map(seen, func(m chat.Message, _ int) string { return m.ID.String() }),
		lo.Map(resynced, func(m chat.Message, _ int) string { return m.ID.String() }))
}
