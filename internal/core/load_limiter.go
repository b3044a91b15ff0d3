package core

// load_limiter.go bounds how many files are decoded and parsed at once.
//
// Parsing holds the whole file and the resulting table in memory, so a burst
// of large drops could exhaust the process. The limiter hands out a fixed
// number of slots; a load that cannot get one within maxWait fails with
// ErrTooManyLoads and the browser asks the user to retry.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyLoads is returned when all load slots are busy and the wait
// timeout expires. Clients should retry after a short delay.
var ErrTooManyLoads = errors.New("too many concurrent loads, please try again later")

// DefaultMaxConcurrentLoads is used when the configured limit is not positive.
const DefaultMaxConcurrentLoads = 4

// DefaultLoadWaitTime is used when the configured wait is not positive.
const DefaultLoadWaitTime = 10 * time.Second

// LoadLimiter is a counting semaphore over file loads.
type LoadLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int32
}

// NewLoadLimiter creates a limiter admitting at most maxConcurrent loads.
func NewLoadLimiter(maxConcurrent int, maxWait time.Duration) *LoadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentLoads
	}
	if maxWait <= 0 {
		maxWait = DefaultLoadWaitTime
	}
	return &LoadLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a free slot. It returns ErrTooManyLoads once maxWait
// passes, or the context error if ctx ends first.
// Every successful Acquire must be paired with Release.
func (l *LoadLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyLoads
	}
}

// Release returns a slot taken by Acquire.
func (l *LoadLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// ActiveCount returns the number of loads in progress.
func (l *LoadLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the slot count.
func (l *LoadLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no load is in progress or ctx ends.
// Used during shutdown so a half-parsed file is not abandoned.
func (l *LoadLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
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

// LoadLimiterStatus is a point-in-time view of the limiter.
type LoadLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status reports slot usage for the health endpoint.
func (l *LoadLimiter) Status() LoadLimiterStatus {
	active := l.ActiveCount()
	return LoadLimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
