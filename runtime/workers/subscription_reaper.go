package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// IdleReaper is implemented by streams able to drop their stalled consumers.
type IdleReaper interface {
	ReapIdle(timeout time.Duration) int
}

// SubscriptionReaperWorker periodically tears down subscriptions whose consumer
// stopped reading while events are pending.
type SubscriptionReaperWorker struct {
	log         *slog.Logger
	clock       clock.Clock
	reaper      IdleReaper
	interval    time.Duration
	idleTimeout time.Duration
}

func NewSubscriptionReaperWorker(log *slog.Logger, clk clock.Clock, reaper IdleReaper,
	interval, idleTimeout time.Duration) *SubscriptionReaperWorker {
	return &SubscriptionReaperWorker{
		log:         log,
		clock:       clk,
		reaper:      reaper,
		interval:    interval,
		idleTimeout: idleTimeout,
	}
}

func (w *SubscriptionReaperWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping subscription reaper")
			return nil
		case <-w.clock.After(w.interval):
			if n := w.reaper.ReapIdle(w.idleTimeout); n > 0 {
				w.log.Info("Idle subscriptions reaped", "count", n)
			}
		}
	}
}
