package timeline

import (
	"sync"
	"time"

	"chat-sync/internal/models"
)

// Clock hands out message timestamps. Two calls never return the same value:
// a call landing in the millisecond of the previous one is bumped forward.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockAt returns a clock backed by now. Used by tests.
func NewClockAt(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Next returns a fresh timestamp formatted with models.TSLayout.
func (c *Clock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Millisecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return t.Format(models.TSLayout)
}
