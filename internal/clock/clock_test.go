package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())

	c.Advance(6 * time.Minute)
	assert.Equal(t, start.Add(6*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealClockMovesForward(t *testing.T) {
	c := New()
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
