package web

// limiter.go bounds how many tables the server acquires at once.
//
// Every inspect and load holds a slot for as long as its table is open, which
// covers the remote fetch, the measuring pass and (for loads) the whole copy.
// When all slots are taken, requests wait up to maxWait before failing with
// ErrTooManyAcquisitions. WaitForDrain lets shutdown wait for open tables.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyAcquisitions is returned when every slot stays occupied for the
// whole wait. Clients should retry after a short delay.
var ErrTooManyAcquisitions = errors.New("too many concurrent acquisitions, please try again later")

const (
	defaultMaxConcurrent = 5
	defaultMaxWait       = 30 * time.Second
)

// AcquireLimiter is a counting semaphore over table acquisitions.
type AcquireLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.RWMutex
	active int
}

// NewAcquireLimiter allows at most maxConcurrent open tables. Non-positive
// arguments fall back to 5 slots and a 30s wait.
func NewAcquireLimiter(maxConcurrent int, maxWait time.Duration) *AcquireLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &AcquireLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot. The caller must Release it once the table is closed.
func (l *AcquireLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyAcquisitions
	}
}

// TryAcquire takes a slot if one is free.
func (l *AcquireLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *AcquireLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.slots
}

// ActiveCount returns the number of open acquisitions.
func (l *AcquireLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until no acquisition is open or ctx is done.
func (l *AcquireLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *AcquireLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
