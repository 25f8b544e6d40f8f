package client

import (
	"context"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
)

// EventSource is an open change stream of one room.
type EventSource interface {
	Next(ctx context.Context) (event.Change, error)
	Close() error
}

type Streamer interface {
	Stream(ctx context.Context, room chat.RoomID) (EventSource, error)
}

// Follow keeps the reconciler attached to the room stream until ctx ends.
// Each (re)connection subscribes first and then resyncs from the last cursor,
// so nothing committed in between is missed. A sequence gap triggers a resync too.
func (r *Reconciler) Follow(ctx context.Context, streamer Streamer, reconnectInterval time.Duration) error {
	for {
		err := r.followOnce(ctx, streamer)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Info("Room stream lost, reconnecting", "room", r.room, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(reconnectInterval):
		}
	}
}

func (r *Reconciler) followOnce(ctx context.Context, streamer Streamer) error {
	source, err := streamer.Stream(ctx, r.room)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	r.ResetStream()
	if err := r.Resync(ctx); err != nil {
		return err
	}
	for {
		change, err := source.Next(ctx)
		if err != nil {
			return err
		}
		if r.OnEvent(change) {
			r.log.Debug("Sequence gap detected, resyncing", "room", r.room, "seq", change.Seq)
			if err := r.Resync(ctx); err != nil {
				return err
			}
		}
	}
}
