package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNeverRepeats(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewClockAt(func() time.Time { return fixed })

	assert.Equal(t, "2024-05-01T10:00:00.000Z", c.Next())
	assert.Equal(t, "2024-05-01T10:00:00.001Z", c.Next())
	assert.Equal(t, "2024-05-01T10:00:00.002Z", c.Next())
}

func TestClockFollowsWallTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	c := NewClockAt(func() time.Time { return now })

	assert.Equal(t, "2024-05-01T08:00:00.000Z", c.Next())
	now = now.Add(time.Second)
	assert.Equal(t, "2024-05-01T08:00:01.000Z", c.Next())
}
