package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistoryStore struct {
	calls int
	turns []string
}

func (f *fakeHistoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]string, error) {
	f.calls++
	return f.turns, nil
}

func TestMemoryStageSkipsWithoutSession(t *testing.T) {
	m := NewMemoryStage(&fakeHistoryStore{turns: []string{"hi"}}, 10, 10)
	req := &Request{}
	d, err := m.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.Empty(t, req.History)
}

func TestMemoryStageFetchesAndCaches(t *testing.T) {
	store := &fakeHistoryStore{turns: []string{"hi", "there"}}
	m := NewMemoryStage(store, 10, 10)
	req := &Request{SessionID: "sess-1"}

	_, err := m.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "there"}, req.History)
	assert.Equal(t, 1, store.calls)

	_, err = m.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls, "second run should hit cache, not the store")
}

func TestMemoryStageEvictsOldestWhenCacheFull(t *testing.T) {
	store := &fakeHistoryStore{turns: []string{"x"}}
	m := NewMemoryStage(store, 10, 1)

	req1 := &Request{SessionID: "sess-a"}
	_, err := m.Run(context.Background(), req1)
	require.NoError(t, err)

	req2 := &Request{SessionID: "sess-b"}
	_, err = m.Run(context.Background(), req2)
	require.NoError(t, err)

	req1Again := &Request{SessionID: "sess-a"}
	_, err = m.Run(context.Background(), req1Again)
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls, "sess-a should have been evicted and re-fetched")
}
