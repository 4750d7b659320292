package core

// import_limiter.go bounds the number of import sessions running at once.
//
// Every session holds a database connection for the staging load and two
// scratch relations until it is cleaned, so sessions are admitted through a
// semaphore. A request that cannot get a slot within maxWait fails with
// ErrTooManyImports. WaitForDrain lets shutdown wait for running sessions.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyImports is returned when no slot frees up within the wait time.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// Defaults applied by NewImportLimiter to non-positive arguments.
const (
	DefaultMaxConcurrentImports = 4
	DefaultMaxWaitTime          = 30 * time.Second
)

// ImportLimiter admits at most a fixed number of concurrent sessions.
type ImportLimiter struct {
	slots    chan struct{}
	maxWait  time.Duration
	active   atomic.Int64
	onChange func(active int)
}

// NewImportLimiter creates a limiter with maxConcurrent slots.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// OnChange registers fn to be called with the active count after every
// acquire and release. Used to feed the active sessions gauge.
func (l *ImportLimiter) OnChange(fn func(active int)) {
	l.onChange = fn
}

func (l *ImportLimiter) add(delta int64) {
	n := l.active.Add(delta)
	if l.onChange != nil {
		l.onChange(int(n))
	}
}

// Acquire waits for a slot. The caller must Release it.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// TryAcquire takes a slot if one is free right now.
func (l *ImportLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ImportLimiter) Release() {
	l.add(-1)
	<-l.slots
}

// ActiveCount returns the number of running sessions.
func (l *ImportLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// WaitForDrain blocks until no session is running or ctx is done.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for l.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// ImportLimiterStatus is a snapshot for the health endpoint.
type ImportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	return ImportLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
