package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	name     string
	decision Decision
	err      error
}

func (f *fakeStage) Name() string { return f.name }
func (f *fakeStage) Run(ctx context.Context, req *Request) (Decision, error) {
	return f.decision, f.err
}

func TestPipelineRunsAllStagesWhenClear(t *testing.T) {
	var events []LayerEvent
	p := New(
		&fakeStage{name: "a", decision: clear(nil)},
		&fakeStage{name: "b", decision: clear(nil)},
	)
	result, err := p.Run(context.Background(), &Request{}, func(e LayerEvent) { events = append(events, e) })
	require.NoError(t, err)
	assert.False(t, result.Blocked)
	require.Len(t, events, 4)
	assert.Equal(t, StatusActive, events[0].Status)
	assert.Equal(t, StatusComplete, events[1].Status)
	assert.Equal(t, "b", events[2].Stage)
}

func TestPipelineStopsAtBlockedStage(t *testing.T) {
	var events []LayerEvent
	p := New(
		&fakeStage{name: "a", decision: clear(nil)},
		&fakeStage{name: "b", decision: blocked("rate_limited", nil)},
		&fakeStage{name: "c", decision: clear(nil)},
	)
	result, err := p.Run(context.Background(), &Request{}, func(e LayerEvent) { events = append(events, e) })
	require.NoError(t, err)
	assert.True(t, result.Blocked)
	assert.Equal(t, "b", result.Stage)
	assert.Equal(t, "rate_limited", result.Reason)
	require.Len(t, events, 3)
	assert.Equal(t, StatusBlocked, events[2].Status)
}

func TestPipelinePropagatesStageError(t *testing.T) {
	p := New(&fakeStage{name: "a", err: errors.New("boom")})
	_, err := p.Run(context.Background(), &Request{}, nil)
	assert.Error(t, err)
}

func TestPipelineRunWithNilEmitDoesNotPanic(t *testing.T) {
	p := New(&fakeStage{name: "a", decision: clear(nil)})
	result, err := p.Run(context.Background(), &Request{}, nil)
	require.NoError(t, err)
	assert.False(t, result.Blocked)
}
