package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"chat-sync/auth"

	"github.com/juju/clock"
	"golang.org/x/time/rate"
)

var errTooManyRequests = fmt.Errorf("too many requests")

// minIdleEviction bounds how long an untouched bucket is kept.
const minIdleEviction = time.Minute

type actorBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ActorRateLimiter keeps one token bucket per actor. Buckets left alone long
// enough to be full again are evicted, a new one behaves the same.
type ActorRateLimiter struct {
	limit     rate.Limit
	burst     int
	clock     clock.Clock
	idleAfter time.Duration

	mu        sync.Mutex
	buckets   map[string]*actorBucket
	lastSweep time.Time
}

// NewActorRateLimiter returns a limiter letting everything through when limit is zero.
func NewActorRateLimiter(limit rate.Limit, burst int, clk clock.Clock) *ActorRateLimiter {
	if burst < 1 {
		burst = 1
	}
	idleAfter := minIdleEviction
	if limit > 0 {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idleAfter {
			idleAfter = refill
		}
	}
	return &ActorRateLimiter{
		limit:     limit,
		burst:     burst,
		clock:     clk,
		idleAfter: idleAfter,
		buckets:   make(map[string]*actorBucket),
		lastSweep: clk.Now(),
	}
}

func (l *ActorRateLimiter) Allow(userID string) bool {
	if l.limit == 0 {
		return true
	}
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.idleAfter {
		l.evictIdle(now)
	}
	bucket, ok := l.buckets[userID]
	if !ok {
		bucket = &actorBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// evictIdle expects l.mu to be held.
func (l *ActorRateLimiter) evictIdle(now time.Time) {
	for userID, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= l.idleAfter {
			delete(l.buckets, userID)
		}
	}
	l.lastSweep = now
}

// Len returns the number of buckets currently held.
func (l *ActorRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware must run after the auth middleware.
func (l *ActorRateLimiter) Middleware(onError auth.OnError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := auth.ActorFromContext(r.Context())
			if !l.Allow(actor.UserID) {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprintf(w, "{%q:%q}\n", "error", errTooManyRequests.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
