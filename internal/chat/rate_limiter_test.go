package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "call %d within burst must pass", i)
	}
	assert.False(t, rl.allow(), "burst exhausted; refill is an hour away")
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	time.Sleep(25 * time.Millisecond)
	assert.True(t, rl.allow(), "tokens refill over time")
}

func TestRateLimiterSanitizesArguments(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow(), "zero capacity falls back to a single token")
}
