package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeSource struct {
	changes chan event.Change
	closed  chan struct{}
	once    sync.Once
}

func newFakeSource(changes ...event.Change) *fakeSource {
	s := &fakeSource{changes: make(chan event.Change, len(changes)), closed: make(chan struct{})}
	for _, c := range changes {
		s.changes <- c
	}
	close(s.changes)
	return s
}

// Next replays the queued changes then reports the stream as lost.
func (s *fakeSource) Next(ctx context.Context) (event.Change, error) {
	select {
	case <-ctx.Done():
		return event.Change{}, ctx.Err()
	case c, ok := <-s.changes:
		if !ok {
			return event.Change{}, errors.ErrTransportLost
		}
		return c, nil
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeStreamer struct {
	mu      sync.Mutex
	sources []*fakeSource
	opened  int
}

func (f *fakeStreamer) Stream(ctx context.Context, room chat.RoomID) (EventSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened < len(f.sources) {
		s := f.sources[f.opened]
		f.opened++
		return s, nil
	}
	f.opened++
	return nil, errors.ErrTransportLost
}

func (f *fakeStreamer) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func TestReconciler_Follow_ResyncsOnReconnect(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	r := h.reconciler(t, alice, general)
	m1 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "from history", CreatedAt: epoch}
	m2 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "live", CreatedAt: epoch.Add(time.Second)}
	m3 := chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: "missed while away", CreatedAt: epoch.Add(2 * time.Second)}

	// Given a first stream that drops after one live event, and a second that stays quiet
	streamer := &fakeStreamer{sources: []*fakeSource{newFakeSource(insertAt(m2, 7)), newFakeSource()}}
	gomock.InOrder(
		h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID}).
			Return([]chat.Message{m1}, m1.Cursor(), nil),
		h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID, Cursor: m1.Cursor()}).
			Return(nil, m1.Cursor(), nil),
		h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID, Cursor: m2.Cursor()}).
			Return([]chat.Message{m3}, m3.Cursor(), nil),
	)
	h.lister.EXPECT().ListSince(gomock.Any(), chat.ListCommand{Room: chat.GeneralRoomID, Cursor: m3.Cursor()}).
		Return(nil, m3.Cursor(), nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Follow(ctx, streamer, time.Second) }()

	// When the first stream is lost and the reconnect delay elapses
	req.NoError(h.clock.WaitAdvance(time.Second, 2*time.Second, 1))

	// Then the second connection resynced what was missed
	req.Eventually(func() bool { return len(r.Entries()) == 3 }, 2*time.Second, 10*time.Millisecond)
	req.Equal([]string{"from history", "live", "missed while away"}, contents(r.Entries()))

	cancel()
	req.ErrorIs(<-done, context.Canceled)
	req.GreaterOrEqual(streamer.Opened(), 2)
}
