// Package ratelimit spaces provider requests per (credential, model) pair.
//
// Each pair owns a token bucket with burst 1 refilled every cooldown interval.
// Reservations chain, so concurrent callers for the same pair are served one
// interval apart in arrival order instead of all waking at once.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IntervalFunc resolves the minimum spacing between two requests for a
// credential and model. Zero or negative disables limiting for the pair.
type IntervalFunc func(credential, model string) time.Duration

// Fixed returns an IntervalFunc applying d to every pair.
func Fixed(d time.Duration) IntervalFunc {
	return func(string, string) time.Duration { return d }
}

// Clock abstracts time so tests can observe waits without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type key struct {
	credential string
	model      string
}

// Limiter is safe for concurrent use. Adapters sharing one Limiter share the
// spacing of every pair.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[key]*rate.Limiter
	interval IntervalFunc
	clock    Clock
	logger   *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithLogger sets the logger used to report waits.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter. A nil interval disables limiting.
func New(interval IntervalFunc, opts ...Option) *Limiter {
	limiter := &Limiter{
		buckets:  map[key]*rate.Limiter{},
		interval: interval,
		clock:    SystemClock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(limiter)
	}
	return limiter
}

// Wait blocks until a request for credential and model may be sent. If ctx
// ends first the reservation is returned to the bucket and ctx.Err() is
// returned.
func (l *Limiter) Wait(ctx context.Context, credential, model string) error {
	if l == nil || l.interval == nil {
		return nil
	}
	interval := l.interval(credential, model)
	if interval <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.clock.Now()
	reservation := l.bucket(now, key{credential, model}, interval).ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	l.logger.DebugContext(ctx, "rate limit wait", "model", model, "delay", delay)
	if err := l.clock.Sleep(ctx, delay); err != nil {
		reservation.CancelAt(l.clock.Now())
		return err
	}
	return nil
}

func (l *Limiter) bucket(now time.Time, k key, interval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := rate.Every(interval)
	bucket, ok := l.buckets[k]
	if !ok {
		bucket = rate.NewLimiter(limit, 1)
		l.buckets[k] = bucket
	} else if bucket.Limit() != limit {
		bucket.SetLimitAt(now, limit)
	}
	return bucket
}
