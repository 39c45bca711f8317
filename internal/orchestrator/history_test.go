package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/infrastructure/state"
)

func TestHistoryStoreRecentReturnsEmptyForUnknownSession(t *testing.T) {
	store := NewHistoryStore(state.NewMemoryBackend(0))
	turns, err := store.Recent(context.Background(), "unknown-session", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHistoryStoreAppendThenRecentRoundTrips(t *testing.T) {
	store := NewHistoryStore(state.NewMemoryBackend(0))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "session-a",
		Turn{Role: "user", Content: "hello"},
		Turn{Role: "assistant", Content: "hi there"},
	))

	turns, err := store.Recent(ctx, "session-a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"user: hello", "assistant: hi there"}, turns)
}

func TestHistoryStoreRecentTruncatesToLimit(t *testing.T) {
	store := NewHistoryStore(state.NewMemoryBackend(0))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "session-a", Turn{Role: "user", Content: "msg"}))
	}

	turns, err := store.Recent(ctx, "session-a", 2)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestHistoryStoreAppendAccumulatesAcrossCalls(t *testing.T) {
	store := NewHistoryStore(state.NewMemoryBackend(0))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "session-a", Turn{Role: "user", Content: "first"}))
	require.NoError(t, store.Append(ctx, "session-a", Turn{Role: "user", Content: "second"}))

	turns, err := store.Recent(ctx, "session-a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"user: first", "user: second"}, turns)
}
