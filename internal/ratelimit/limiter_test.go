package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := NewLimiter(3600, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("caller-a"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("caller-a"), "burst exhausted")
}

func TestLimiterIsolatesCallers(t *testing.T) {
	l := NewLimiter(3600, 1)

	assert.True(t, l.Allow("caller-a"))
	assert.False(t, l.Allow("caller-a"))
	assert.True(t, l.Allow("caller-b"), "one caller's burst must not affect another")
}

func TestTokensDecrease(t *testing.T) {
	l := NewLimiter(3600, 10)

	before := l.Tokens("caller-a")
	l.Allow("caller-a")
	after := l.Tokens("caller-a")
	assert.Less(t, after, before)
}
