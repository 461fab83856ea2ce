package models

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTS(t *testing.T) {
	assert.Equal(t, "2024-03-01T10:00:00.000Z", NormalizeTS("2024-03-01T10:00:00Z"))
	assert.Equal(t, "2024-03-01T10:00:00.500Z", NormalizeTS("2024-03-01T10:00:00.5Z"))
	assert.Equal(t, "2024-03-01T08:00:00.123Z", NormalizeTS("2024-03-01T10:00:00.123+02:00"))
	assert.Equal(t, "2024-03-01T10:00:00.123Z", NormalizeTS("2024-03-01T10:00:00.123Z"))
	assert.Equal(t, "not-a-time", NormalizeTS("not-a-time"))
}

func TestNormalizedTimestampsSortChronologically(t *testing.T) {
	raw := []string{"2024-03-01T10:00:00.500Z", "2024-03-01T10:00:00Z", "2024-03-01T10:00:01+00:00"}
	got := make([]string, 0, len(raw))
	for _, ts := range raw {
		got = append(got, NormalizeTS(ts))
	}
	sort.Strings(got)
	assert.Equal(t, []string{
		"2024-03-01T10:00:00.000Z",
		"2024-03-01T10:00:00.500Z",
		"2024-03-01T10:00:01.000Z",
	}, got)
}
