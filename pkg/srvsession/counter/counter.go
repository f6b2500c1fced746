package counter

import (
	"go.uber.org/atomic"

	"github.com/tbxark/srvsession/pkg/srvsession/session"
)

var _ session.Counter = (*ConnectionCounter)(nil)

// ConnectionCounter counts successful connects. It only ever goes up and is
// safe for concurrent use.
type ConnectionCounter struct {
	count atomic.Uint64
}

// New creates a counter starting at zero.
func New() *ConnectionCounter {
	return &ConnectionCounter{}
}

func (c *ConnectionCounter) Increment() {
	c.count.Inc()
}

func (c *ConnectionCounter) Count() uint64 {
	return c.count.Load()
}
