package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyCombinesOperationAndClientIP(t *testing.T) {
	assert.Equal(t, "evaluate|1.2.3.4", Key("evaluate", "1.2.3.4"))
	assert.Equal(t, "evaluate", Key("evaluate", ""))
}

func TestCheckAllowsWithinBurst(t *testing.T) {
	cfg := Config{RequestsPerMinute: 60, BurstSize: 5}
	l := New(cfg, nil, nil)

	for i := 0; i < 5; i++ {
		allowed, _ := l.Check(context.Background(), "op", 1)
		assert.True(t, allowed, "request %d should be allowed within burst", i)
	}
}

func TestCheckDeniesBeyondBurst(t *testing.T) {
	cfg := Config{RequestsPerMinute: 60, BurstSize: 2}
	l := New(cfg, nil, nil)

	l.Check(context.Background(), "op", 1)
	l.Check(context.Background(), "op", 1)
	allowed, retryAfter := l.Check(context.Background(), "op", 1)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter.Nanoseconds(), int64(0))
}

func TestDistinctKeysHaveIndependentBuckets(t *testing.T) {
	cfg := Config{RequestsPerMinute: 60, BurstSize: 1}
	l := New(cfg, nil, nil)

	allowed1, _ := l.Check(context.Background(), "op|1.1.1.1", 1)
	allowed2, _ := l.Check(context.Background(), "op|2.2.2.2", 1)
	assert.True(t, allowed1)
	assert.True(t, allowed2)
}

func TestBypassedRequiresBothHeaderNameAndValue(t *testing.T) {
	cfg := Config{BypassHeader: "X-RateLimit-Limit"}
	assert.True(t, cfg.Bypassed("100"))
	assert.False(t, cfg.Bypassed(""))

	cfg2 := Config{}
	assert.False(t, cfg2.Bypassed("100"))
}
