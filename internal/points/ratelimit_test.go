package points

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSessionLimitBoundary(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-(23*time.Hour + 59*time.Minute))
	history := []time.Time{
		oldest,
		now.Add(-12 * time.Hour),
		now.Add(-time.Minute),
	}

	l := CheckSessionLimit(history, now)
	assert.False(t, l.Allowed)
	assert.Equal(t, 3, l.Used)
	assert.Equal(t, 0, l.Remaining)
	require.NotNil(t, l.NextAvailableAt)
	assert.Equal(t, oldest.Add(24*time.Hour), *l.NextAvailableAt)

	// Two minutes later the oldest entry has aged out of the window.
	later := now.Add(2 * time.Minute)
	l = CheckSessionLimit(history, later)
	assert.True(t, l.Allowed)
	assert.Equal(t, 2, l.Used)
	assert.Equal(t, 1, l.Remaining)
	assert.Nil(t, l.NextAvailableAt)
}

func TestCheckSessionLimitExactWindowEdge(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	history := []time.Time{now.Add(-24 * time.Hour)}

	l := CheckSessionLimit(history, now)
	assert.Equal(t, 0, l.Used)
	assert.True(t, l.Allowed)
}

func TestCheckSessionLimitUnorderedHistory(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	history := []time.Time{
		now.Add(-time.Hour),
		now.Add(-20 * time.Hour),
		now.Add(-3 * time.Hour),
		now.Add(-48 * time.Hour),
	}
	l := CheckSessionLimitWith(history, now, 3, 24*time.Hour)
	assert.False(t, l.Allowed)
	require.NotNil(t, l.NextAvailableAt)
	assert.Equal(t, now.Add(4*time.Hour), *l.NextAvailableAt)
}

func TestCheckSessionLimitEmpty(t *testing.T) {
	l := CheckSessionLimit(nil, time.Now())
	assert.Equal(t, Limit{Allowed: true, Used: 0, Remaining: MaxSessions}, l)
}
