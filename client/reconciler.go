package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

const errorsBacklog = 16

type pendingSend struct {
	entry OptimisticEntry
	timer clock.Timer
}

// Reconciler merges optimistic sends with the confirmed change stream of one room.
// Every send carries its temp id as idempotency key: the INSERT carrying that
// key replaces the optimistic entry in place.
type Reconciler struct {
	log            *slog.Logger
	clock          clock.Clock
	actor          chat.Actor
	room           chat.RoomID
	appender       Appender
	lister         Lister
	confirmTimeout time.Duration

	mu       sync.Mutex
	timeline *Timeline
	pending  map[string]*pendingSend
	failed   map[string]OptimisticEntry
	locked   bool
	cursor   chat.Cursor
	lastSeq  uint64
	closed   bool

	errs     chan error
	inFlight sync.WaitGroup
}

func NewReconciler(log *slog.Logger, clk clock.Clock, actor chat.Actor, room chat.Room,
	appender Appender, lister Lister, confirmTimeout time.Duration) *Reconciler {
	return &Reconciler{
		log:            log,
		clock:          clk,
		actor:          actor,
		room:           room.ID,
		appender:       appender,
		lister:         lister,
		confirmTimeout: confirmTimeout,
		timeline:       NewTimeline(),
		pending:        make(map[string]*pendingSend),
		failed:         make(map[string]OptimisticEntry),
		locked:         room.Locked,
		errs:           make(chan error, errorsBacklog),
	}
}

// Send renders the content immediately and appends it in the background.
// A blank content or a locked room leaves nothing behind.
func (r *Reconciler) Send(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty content", errors.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked && !r.actor.IsModerator {
		return "", errors.ErrLocked
	}
	entry := OptimisticEntry{
		TempID:    uuid.NewString(),
		Content:   content,
		SenderID:  r.actor.UserID,
		CreatedAt: r.clock.Now(),
		Room:      r.room,
	}
	r.sendLocked(ctx, entry)
	return entry.TempID, nil
}

// Retry sends a rolled back entry again under the same idempotency key,
// so a write that did reach the server is not duplicated.
func (r *Reconciler) Retry(ctx context.Context, tempID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.failed[tempID]
	if !ok {
		return fmt.Errorf("%w: no failed send %s", errors.ErrNotFound, tempID)
	}
	if r.locked && !r.actor.IsModerator {
		return errors.ErrLocked
	}
	delete(r.failed, tempID)
	r.sendLocked(ctx, entry)
	return nil
}

func (r *Reconciler) sendLocked(ctx context.Context, entry OptimisticEntry) {
	r.timeline.AddPending(entry)
	r.pending[entry.TempID] = &pendingSend{
		entry: entry,
		timer: r.clock.AfterFunc(r.confirmTimeout, func() {
			r.rollback(entry.TempID, errors.ErrConfirmationTimeout)
		}),
	}
	r.inFlight.Add(1)
	go r.append(ctx, entry)
}

func (r *Reconciler) append(ctx context.Context, entry OptimisticEntry) {
	defer r.inFlight.Done()
	message, err := r.appender.Append(ctx, chat.AppendCommand{
		Room:           entry.Room,
		Content:        entry.Content,
		IdempotencyKey: entry.TempID,
	})
	if err != nil {
		r.rollback(entry.TempID, err)
		return
	}
	// A replay of an already rendered write is not published again.
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[entry.TempID]; ok && r.timeline.Contains(message.ID) {
		r.confirmLocked(message)
	}
}

func (r *Reconciler) rollback(tempID string, cause error) {
	r.mu.Lock()
	p, ok := r.pending[tempID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(r.pending, tempID)
	r.timeline.RemovePending(tempID)
	r.failed[tempID] = p.entry
	r.mu.Unlock()

	r.log.Debug("Send rolled back", "room", r.room, "temp_id", tempID, "error", cause)
	r.report(fmt.Errorf("send %s: %w", tempID, cause))
}

func (r *Reconciler) report(err error) {
	select {
	case r.errs <- err:
	default:
		r.log.Warn("Error backlog full, dropping", "error", err)
	}
}

// Errors surfaces failed sends. Errors are dropped when nobody reads them.
func (r *Reconciler) Errors() <-chan error {
	return r.errs
}

// OnEvent applies one change of the room stream. It reports a gap when the
// sequence jumped, in which case the caller is expected to Resync.
func (r *Reconciler) OnEvent(change event.Change) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if change.Room != r.room {
		return false
	}
	if r.lastSeq != 0 && change.Seq <= r.lastSeq {
		return false
	}
	gap := r.lastSeq != 0 && change.Seq != r.lastSeq+1
	r.lastSeq = change.Seq

	switch change.Kind {
	case event.Insert:
		if change.Message != nil {
			r.confirmLocked(*change.Message)
		}
	case event.Update:
		if change.Message != nil {
			r.timeline.Upsert(*change.Message)
		}
	case event.Delete:
		r.timeline.Remove(change.MessageID)
	case event.RoomChanged:
		if change.RoomState != nil {
			r.locked = change.RoomState.Locked
		}
	}
	return gap
}

// ResetStream forgets the last sequence, for a new subscription.
func (r *Reconciler) ResetStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeq = 0
}

// Resync pages through ListSince from the last confirmed cursor. Messages
// already rendered are left untouched.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	cursor := r.cursor
	r.mu.Unlock()

	for {
		messages, next, err := r.lister.ListSince(ctx, chat.ListCommand{Room: r.room, Cursor: cursor})
		if err != nil {
			return err
		}
		r.mu.Lock()
		for _, m := range messages {
			if !r.timeline.Contains(m.ID) {
				r.confirmLocked(m)
			}
		}
		r.mu.Unlock()
		if len(messages) == 0 || next == cursor {
			return nil
		}
		cursor = next
	}
}

// confirmLocked expects r.mu to be held.
func (r *Reconciler) confirmLocked(message chat.Message) {
	if c := message.Cursor(); c > r.cursor {
		r.cursor = c
	}
	if message.SenderID == r.actor.UserID && message.IdempotencyKey != "" {
		delete(r.failed, message.IdempotencyKey)
		if p, ok := r.pending[message.IdempotencyKey]; ok {
			p.timer.Stop()
			delete(r.pending, message.IdempotencyKey)
			r.timeline.Promote(message.IdempotencyKey, message)
			return
		}
	}
	r.timeline.Upsert(message)
}

func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeline.Entries()
}

func (r *Reconciler) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

func (r *Reconciler) Cursor() chat.Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Close stops confirmation timers and waits for in-flight appends.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, p := range r.pending {
		p.timer.Stop()
	}
	r.mu.Unlock()
	r.inFlight.Wait()
}
