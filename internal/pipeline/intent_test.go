package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentRouterLabelsCodeMessage(t *testing.T) {
	r := NewIntentRouter(nil)
	req := &Request{Messages: []string{"why won't this function compile"}}
	d, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.Equal(t, "code", req.Intent)
	assert.Equal(t, 2, req.ReasoningLevel)
}

func TestIntentRouterFallsBackToChat(t *testing.T) {
	r := NewIntentRouter(nil)
	req := &Request{Messages: []string{"good morning"}}
	d, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.Equal(t, "chat", req.Intent)
}

func TestIntentRouterBlocksPolicyBlockedIntent(t *testing.T) {
	r := NewIntentRouter([]string{"creative"})
	req := &Request{Messages: []string{"write a poem about the sea"}}
	d, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Blocked)
	assert.Equal(t, "policy_blocked_intent", d.Reason)
}

func TestIntentRouterHandlesEmptyMessages(t *testing.T) {
	r := NewIntentRouter(nil)
	req := &Request{}
	d, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.Equal(t, "chat", req.Intent)
}
