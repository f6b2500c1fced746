package server

import (
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ClientLimiter caps the number of concurrently connected clients.
type ClientLimiter struct {
	sem        *semaphore.Weighted
	maxClients int64
	inUse      atomic.Int64
}

// NewClientLimiter creates a limiter admitting at most maxClients clients.
func NewClientLimiter(maxClients int) *ClientLimiter {
	return &ClientLimiter{
		sem:        semaphore.NewWeighted(int64(maxClients)),
		maxClients: int64(maxClients),
	}
}

// TryAcquire claims a client slot without blocking.
func (l *ClientLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inUse.Inc()
	return true
}

func (l *ClientLimiter) Release() {
	l.inUse.Dec()
	l.sem.Release(1)
}

// Available reports how many slots are free. It never touches the semaphore,
// so concurrent TryAcquire calls are unaffected.
func (l *ClientLimiter) Available() int {
	free := l.maxClients - l.inUse.Load()
	if free < 0 {
		return 0
	}
	return int(free)
}
