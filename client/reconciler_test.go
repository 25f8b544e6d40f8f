package client

import (
	"context"
	"testing"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/mocks"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const confirmTimeout = 5 * time.Second

var (
	alice     = chat.Actor{UserID: "alice", DisplayName: "Alice"}
	moderator = chat.Actor{UserID: "mod", DisplayName: "Mod", IsModerator: true}
	general   = chat.Room{ID: chat.GeneralRoomID, Kind: chat.KindGeneral, Name: "General"}
)

type harness struct {
	clock    *testclock.Clock
	appender *mocks.MockAppender
	lister   *mocks.MockLister
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	return &harness{
		clock:    testclock.NewClock(epoch),
		appender: mocks.NewMockAppender(ctrl),
		lister:   mocks.NewMockLister(ctrl),
	}
}

func (h *harness) reconciler(t *testing.T, actor chat.Actor, room chat.Room) *Reconciler {
	r := NewReconciler(discardLogger(), h.clock, actor, room, h.appender, h.lister, confirmTimeout)
	t.Cleanup(r.Close)
	return r
}

// committed mirrors what the server stores for an append command.
func committed(actor chat.Actor, cmd chat.AppendCommand, at time.Time) chat.Message {
	return chat.Message{
		ID:             uuid.New(),
		Room:           cmd.Room,
		SenderID:       actor.UserID,
		Content:        cmd.Content,
		CreatedAt:      at,
		IdempotencyKey: cmd.IdempotencyKey,
	}
}

func insertAt(m chat.Message, seq uint64) event.Change {
	change := event.Inserted(m, m.CreatedAt)
	change.Seq = seq
	return change
}

func nextError(t *testing.T, r *Reconciler) error {
	t.Helper()
	select {
	case err := <-r.Errors():
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced")
		return nil
	}
}

func TestReconciler_Send_PromotedByInsert(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	stored := make(chan chat.Message, 1)
	h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd chat.AppendCommand) (chat.Message, error) {
			m := committed(alice, cmd, epoch)
			stored <- m
			return m, nil
		})

	// Given an optimistic send rendered right away
	tempID, err := r.Send(context.Background(), "hello")
	req.NoError(err)
	entries := r.Entries()
	req.Len(entries, 1)
	req.True(entries[0].Pending())
	req.Equal(tempID, entries[0].Optimistic.TempID)

	// When its INSERT arrives
	m := <-stored
	req.Equal(tempID, m.IdempotencyKey)
	r.OnEvent(insertAt(m, 1))
	r.OnEvent(insertAt(m, 1))
	r.Close()

	// Then exactly one confirmed entry is rendered
	entries = r.Entries()
	req.Len(entries, 1)
	req.False(entries[0].Pending())
	req.Equal(m.ID, entries[0].Message.ID)
	req.Equal(m.Cursor(), r.Cursor())
}

func TestReconciler_Send_InsertBeforeResponse(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	stored := make(chan chat.Message, 1)
	release := make(chan struct{})
	h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd chat.AppendCommand) (chat.Message, error) {
			m := committed(alice, cmd, epoch)
			stored <- m
			<-release
			return m, nil
		})

	_, err := r.Send(context.Background(), "fast event")
	req.NoError(err)
	r.OnEvent(insertAt(<-stored, 1))
	close(release)
	r.Close()

	entries := r.Entries()
	req.Len(entries, 1)
	req.False(entries[0].Pending())
}

func TestReconciler_Send_FailureRollsBack(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).Return(chat.Message{}, errors.ErrLocked)

	tempID, err := r.Send(context.Background(), "too late")
	req.NoError(err)

	err = nextError(t, r)
	req.ErrorIs(err, errors.ErrLocked)
	req.Contains(err.Error(), tempID)
	r.Close()
	req.Empty(r.Entries())
}

func TestReconciler_Send_RejectedUpFront(t *testing.T) {
	h := newHarness(t)
	lockedRoom := chat.Room{ID: "r1", Kind: chat.KindGroup, Locked: true}

	t.Run("blank content", func(t *testing.T) {
		r := h.reconciler(t, alice, general)
		_, err := r.Send(context.Background(), " \n ")
		require.ErrorIs(t, err, errors.ErrValidation)
		require.Empty(t, r.Entries())
	})

	t.Run("locked room", func(t *testing.T) {
		r := h.reconciler(t, alice, lockedRoom)
		_, err := r.Send(context.Background(), "hi")
		require.ErrorIs(t, err, errors.ErrLocked)
		require.Empty(t, r.Entries())
	})

	t.Run("unlocked by a room event", func(t *testing.T) {
		req := require.New(t)
		r := h.reconciler(t, alice, lockedRoom)
		opened := lockedRoom
		opened.Locked = false
		h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).Return(chat.Message{}, errors.ErrValidation)

		r.OnEvent(event.Change{Kind: event.RoomChanged, Room: "r1", Seq: 1, RoomState: &opened})
		req.False(r.Locked())
		_, err := r.Send(context.Background(), "hi")
		req.NoError(err)
		req.ErrorIs(nextError(t, r), errors.ErrValidation)
	})

	t.Run("moderator bypasses the lock", func(t *testing.T) {
		r := h.reconciler(t, moderator, lockedRoom)
		h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).Return(chat.Message{}, errors.ErrValidation)
		_, err := r.Send(context.Background(), "announcement")
		require.NoError(t, err)
		require.ErrorIs(t, nextError(t, r), errors.ErrValidation)
	})
}

func TestReconciler_ConfirmTimeout_ThenRetry(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	stored := make(chan chat.Message, 1)
	var first chat.Message
	gomock.InOrder(
		h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, cmd chat.AppendCommand) (chat.Message, error) {
				m := committed(alice, cmd, epoch)
				stored <- m
				return m, nil
			}),
		h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, cmd chat.AppendCommand) (chat.Message, error) {
				return first, nil
			}),
	)

	// Given a send whose INSERT never arrives
	tempID, err := r.Send(context.Background(), "lost event")
	req.NoError(err)
	first = <-stored

	// When the confirmation window elapses
	req.NoError(h.clock.WaitAdvance(confirmTimeout, time.Second, 1))

	// Then the entry is rolled back even though the write succeeded
	req.ErrorIs(nextError(t, r), errors.ErrConfirmationTimeout)
	req.Empty(r.Entries())

	// When the user retries, the server replays the same message
	req.NoError(r.Retry(context.Background(), tempID))
	req.Len(r.Entries(), 1)
	h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID}).
		Return([]chat.Message{first}, first.Cursor(), nil)
	h.lister.EXPECT().ListSince(gomock.Any(), gomock.Any()).Return(nil, chat.Cursor(""), nil).AnyTimes()
	req.NoError(r.Resync(context.Background()))
	r.Close()

	// Then it is rendered once, confirmed
	entries := r.Entries()
	req.Len(entries, 1)
	req.False(entries[0].Pending())
	req.Equal(first.ID, entries[0].Message.ID)
	req.ErrorIs(r.Retry(context.Background(), tempID), errors.ErrNotFound)
}

func TestReconciler_LateInsertAfterRollback(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	stored := make(chan chat.Message, 1)
	h.appender.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd chat.AppendCommand) (chat.Message, error) {
			m := committed(alice, cmd, epoch)
			stored <- m
			return m, nil
		})

	tempID, err := r.Send(context.Background(), "slow")
	req.NoError(err)
	m := <-stored
	req.NoError(h.clock.WaitAdvance(confirmTimeout, time.Second, 1))
	req.ErrorIs(nextError(t, r), errors.ErrConfirmationTimeout)

	r.OnEvent(insertAt(m, 1))

	req.Len(r.Entries(), 1)
	req.ErrorIs(r.Retry(context.Background(), tempID), errors.ErrNotFound)
}

func TestReconciler_OnEvent(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	m1 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "one", CreatedAt: epoch}
	m2 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "two", CreatedAt: epoch.Add(time.Second)}

	req.False(r.OnEvent(insertAt(m1, 1)))
	req.False(r.OnEvent(insertAt(m2, 2)))

	edited := m1
	edited.Content = "one, edited"
	update := event.Updated(edited, epoch)
	update.Seq = 3
	req.False(r.OnEvent(update))

	deletion := event.Deleted(chat.GeneralRoomID, m2.ID, epoch)
	deletion.Seq = 5
	req.True(r.OnEvent(deletion), "seq 4 is missing")

	req.False(r.OnEvent(insertAt(m2, 2)), "stale events are ignored")
	req.False(r.OnEvent(event.Change{Kind: event.Insert, Room: "elsewhere", Seq: 6, Message: &m2}))

	entries := r.Entries()
	req.Len(entries, 1)
	req.Equal("one, edited", entries[0].Message.Content)
}

func TestReconciler_Resync_Pages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	m1 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "one", CreatedAt: epoch}
	m2 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "two", CreatedAt: epoch.Add(time.Second)}
	m3 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "three", CreatedAt: epoch.Add(2 * time.Second)}

	gomock.InOrder(
		h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID}).
			Return([]chat.Message{m1, m2}, m2.Cursor(), nil),
		h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID, Cursor: m2.Cursor()}).
			Return([]chat.Message{m3}, m3.Cursor(), nil),
		h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID, Cursor: m3.Cursor()}).
			Return(nil, m3.Cursor(), nil).Times(2),
	)

	req.NoError(r.Resync(context.Background()))
	req.NoError(r.Resync(context.Background()))

	req.Equal([]string{"one", "two", "three"}, contents(r.Entries()))
	req.Equal(m3.Cursor(), r.Cursor())
}
