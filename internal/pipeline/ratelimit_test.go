package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 2)
	req := &Request{Caller: fakeCaller("user-1")}
	d1, err := rl.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d1.Blocked)
	d2, err := rl.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d2.Blocked)
}

func TestRateLimiterBlocksAfterBurstExhausted(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 1)
	req := &Request{Caller: fakeCaller("user-2")}
	_, err := rl.Run(context.Background(), req)
	require.NoError(t, err)
	d, err := rl.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Blocked)
	assert.Equal(t, "rate_limited", d.Reason)
}

func TestRateLimiterKeysByUserIndependently(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 1)
	req1 := &Request{Caller: fakeCaller("user-3")}
	req2 := &Request{Caller: fakeCaller("user-4")}
	d1, err := rl.Run(context.Background(), req1)
	require.NoError(t, err)
	assert.False(t, d1.Blocked)
	d2, err := rl.Run(context.Background(), req2)
	require.NoError(t, err)
	assert.False(t, d2.Blocked)
}

func TestRateLimiterFallsBackToSessionIDForAnonymous(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 1)
	req := &Request{SessionID: "sess-1"}
	_, err := rl.Run(context.Background(), req)
	require.NoError(t, err)
	d, err := rl.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Blocked)
}
