package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthLimiter tracks authentication failures per IP address. Each IP is
// also throttled to a steady handshake rate so a blocked address cannot
// hammer the listener.
type AuthLimiter struct {
	mu            sync.Mutex
	entries       map[string]*authEntry
	maxFailures   int
	blockDuration time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

type authEntry struct {
	handshakes *rate.Limiter
	failures   int
	blockedAt  time.Time
}

// NewAuthLimiter creates a limiter that blocks an IP for blockDuration after
// maxFailures failed handshakes.
func NewAuthLimiter(maxFailures int, blockDuration time.Duration) *AuthLimiter {
	l := &AuthLimiter{
		entries:       make(map[string]*authEntry),
		maxFailures:   maxFailures,
		blockDuration: blockDuration,
		cleanupTicker: time.NewTicker(time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Allow reports whether ip may attempt a handshake now.
func (l *AuthLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(ip)
	if l.blocked(e) {
		return false
	}
	return e.handshakes.Allow()
}

// RecordFailure records an authentication failure. Returns true if the IP is
// now blocked.
func (l *AuthLimiter) RecordFailure(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(ip)
	e.failures++

	if e.failures >= l.maxFailures {
		e.blockedAt = time.Now()
		return true
	}

	return false
}

// IsBlocked checks if the given IP is currently blocked.
func (l *AuthLimiter) IsBlocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.entries[ip]
	if !exists {
		return false
	}
	return l.blocked(e)
}

// Reset clears the failure record for the given IP.
func (l *AuthLimiter) Reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, ip)
}

// Close stops the cleanup goroutine.
func (l *AuthLimiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopCleanup)
		l.cleanupTicker.Stop()
	})
}

func (l *AuthLimiter) entry(ip string) *authEntry {
	e, exists := l.entries[ip]
	if !exists {
		// Burst covers a client's normal reconnects; sustained retries are
		// held to one per second.
		e = &authEntry{
			handshakes: rate.NewLimiter(rate.Every(time.Second), l.maxFailures+1),
		}
		l.entries[ip] = e
	}
	return e
}

func (l *AuthLimiter) blocked(e *authEntry) bool {
	if e.blockedAt.IsZero() {
		return false
	}
	if time.Since(e.blockedAt) < l.blockDuration {
		return true
	}
	// Block expired: start counting from scratch.
	e.blockedAt = time.Time{}
	e.failures = 0
	return false
}

func (l *AuthLimiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *AuthLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for ip, e := range l.entries {
		if !e.blockedAt.IsZero() && now.Sub(e.blockedAt) > l.blockDuration*2 {
			delete(l.entries, ip)
		}
	}
}
