package client

import (
	"testing"
	"time"

	"chat-sync/domain/chat"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func messageAt(offset time.Duration, content string) chat.Message {
	return chat.Message{ID: uuid.New(), Room: chat.GeneralRoomID, SenderID: "bob", Content: content, CreatedAt: epoch.Add(offset)}
}

func contents(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		if e.Pending() {
			out = append(out, "~"+e.Optimistic.Content)
			continue
		}
		out = append(out, e.Message.Content)
	}
	return out
}

func TestTimeline_UpsertKeepsRoomOrder(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline()

	// Given messages received out of order
	third := messageAt(3*time.Second, "third")
	first := messageAt(time.Second, "first")
	second := messageAt(2*time.Second, "second")

	// When upserting them
	req.True(timeline.Upsert(third))
	req.True(timeline.Upsert(first))
	req.True(timeline.Upsert(second))
	req.False(timeline.Upsert(second))

	// Then the timeline follows (CreatedAt, ID)
	req.Equal([]string{"first", "second", "third"}, contents(timeline.Entries()))
}

func TestTimeline_PromoteKeepsPosition(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline()
	timeline.Upsert(messageAt(time.Second, "before"))

	// Given two pending sends
	timeline.AddPending(OptimisticEntry{TempID: "t1", Content: "mine-1"})
	timeline.AddPending(OptimisticEntry{TempID: "t2", Content: "mine-2"})

	// When someone else's message and then the first confirmation arrive
	timeline.Upsert(messageAt(2*time.Second, "other"))
	confirmed := messageAt(3*time.Second, "mine-1")
	timeline.Promote("t1", confirmed)

	// Then confirmed messages stay before the remaining pending entry
	req.Equal([]string{"before", "other", "mine-1", "~mine-2"}, contents(timeline.Entries()))
	req.True(timeline.Contains(confirmed.ID))
	req.Equal(4, timeline.Len())
}

func TestTimeline_PromoteAlreadyKnownMessage(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline()
	confirmed := messageAt(time.Second, "mine")
	timeline.AddPending(OptimisticEntry{TempID: "t1", Content: "mine"})
	timeline.Upsert(confirmed)

	timeline.Promote("t1", confirmed)

	req.Equal([]string{"mine"}, contents(timeline.Entries()))
}

func TestTimeline_Remove(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline()
	m := messageAt(time.Second, "gone")
	timeline.Upsert(m)
	timeline.AddPending(OptimisticEntry{TempID: "t1", Content: "pending"})

	req.True(timeline.Remove(m.ID))
	req.False(timeline.Remove(m.ID))
	req.True(timeline.RemovePending("t1"))
	req.False(timeline.RemovePending("t1"))
	req.Zero(timeline.Len())
}
