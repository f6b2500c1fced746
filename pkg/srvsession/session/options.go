package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is the delay between liveness checks in Start.
const DefaultPollInterval = time.Second

// Option configures a Session.
type Option func(*Session)

// WithDatabase records every connect attempt in a transaction on db.
func WithDatabase(db Database) Option {
	return func(s *Session) {
		s.db = db
	}
}

// WithCounter increments c after each successful connect.
func WithCounter(c Counter) Option {
	return func(s *Session) {
		s.counter = c
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPollInterval sets the delay between liveness checks.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithIgnoreConnectionErrors makes a failed connect return (false, nil).
func WithIgnoreConnectionErrors(ignore bool) Option {
	return func(s *Session) {
		s.ignoreConnectionErrors = ignore
	}
}

// WithOnConnected runs fn in Start once the session is connected and before
// polling begins.
func WithOnConnected(fn func(ctx context.Context, s *Session) error) Option {
	return func(s *Session) {
		s.onConnected = fn
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
