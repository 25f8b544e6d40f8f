package server

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestActorRateLimiter_EvictsIdleBuckets(t *testing.T) {
	req := require.New(t)
	clk := testclock.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	limiter := NewActorRateLimiter(rate.Every(time.Second), 2, clk)

	// Given two actors that spent their burst
	for _, user := range []string{"alice", "bob"} {
		req.True(limiter.Allow(user))
		req.True(limiter.Allow(user))
		req.False(limiter.Allow(user))
	}
	req.Equal(2, limiter.Len())

	// When only alice comes back after the idle window
	clk.Advance(minIdleEviction)
	req.True(limiter.Allow("alice"))

	// Then bob's bucket was dropped and alice's was refilled
	req.Equal(1, limiter.Len())
	req.True(limiter.Allow("alice"))
}

func TestActorRateLimiter_KeepsBucketsUntilRefilled(t *testing.T) {
	req := require.New(t)
	clk := testclock.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	limiter := NewActorRateLimiter(rate.Every(time.Hour), 1, clk)

	// Given alice spent the only token of an hourly bucket
	req.True(limiter.Allow("alice"))

	// When another actor shows up after the minimum idle window
	clk.Advance(minIdleEviction)
	req.True(limiter.Allow("bob"))

	// Then alice is still limited since the bucket would not have refilled yet
	req.Equal(2, limiter.Len())
	req.False(limiter.Allow("alice"))
}

func TestActorRateLimiter_ZeroLimitKeepsNothing(t *testing.T) {
	req := require.New(t)
	limiter := NewActorRateLimiter(0, 0, testclock.NewClock(time.Now()))

	for range 10 {
		req.True(limiter.Allow("alice"))
	}
	req.Zero(limiter.Len())
}
