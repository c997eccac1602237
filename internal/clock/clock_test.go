package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())

	got := c.Advance(10 * time.Second)
	assert.Equal(t, start.Add(10*time.Second), got)
	assert.Equal(t, got, c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealMovesForward(t *testing.T) {
	t.Parallel()

	var c Clock = Real{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
