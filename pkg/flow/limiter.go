// Package flow provides the outbound request rate limiter shared by every fetch.
package flow

import (
	"log/slog"
	"sync"
	"time"
)

// Clock abstracts time so limiter behavior can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Permit is returned by Allow once the caller may issue its request.
type Permit struct {
	Granted time.Time
	Waited  time.Duration
}

// Stats summarizes limiter activity.
type Stats struct {
	Permits   int64
	Throttled int64
	TotalWait time.Duration
}

// Limiter allows at most limit requests per rolling interval.
//
// The window holds the timestamps of the last limit permits. It is seeded
// with limit copies of (now - interval), so the first limit calls are never
// delayed; afterwards call i waits until interval has passed since call
// i-limit. The window, including any sleep, is guarded by one mutex, so
// concurrent callers are served one at a time.
type Limiter struct {
	mu sync.Mutex

	interval time.Duration
	limit    int
	window   []time.Time
	head     int // index of the oldest timestamp

	clock  Clock
	logger *slog.Logger
	stats  Stats
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger logs each throttled permit at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a limiter for limit requests per interval.
// Non-positive arguments fall back to 1 request and 1 second.
func NewLimiter(limit int, interval time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	l := &Limiter{
		interval: interval,
		limit:    limit,
		clock:    SystemClock,
	}
	for _, opt := range opts {
		opt(l)
	}

	seed := l.clock.Now().Add(-interval)
	l.window = make([]time.Time, limit)
	for i := range l.window {
		l.window[i] = seed
	}
	return l
}

// Allow blocks until a request is within the rate limit and then grants it.
// It never fails and cannot be interrupted.
func (l *Limiter) Allow() Permit {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.window[l.head]
	delay := l.interval - l.clock.Now().Sub(oldest)
	var waited time.Duration
	if delay > 0 {
		if l.logger != nil {
			l.logger.Debug("rate limit reached, waiting", "waited", delay)
		}
		l.clock.Sleep(delay)
		waited = delay
		l.stats.Throttled++
		l.stats.TotalWait += delay
	}

	now := l.clock.Now()
	l.window[l.head] = now
	l.head = (l.head + 1) % l.limit
	l.stats.Permits++

	return Permit{Granted: now, Waited: waited}
}

// Limit returns the number of requests allowed per interval.
func (l *Limiter) Limit() int {
	return l.limit
}

// Interval returns the rolling interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
