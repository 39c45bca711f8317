package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/internal/authn"
)

type fakeAdvisor struct {
	escalate bool
	err      error
}

func (f *fakeAdvisor) ShouldEscalate(ctx context.Context, caller authn.Caller, intent string, reasoningLevel int) (bool, error) {
	return f.escalate, f.err
}

func TestFireControlDefaultsToLocalWithNoAdvisor(t *testing.T) {
	s := NewFireControlStage(nil)
	req := &Request{}
	d, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.False(t, req.RouteExternal)
}

func TestFireControlEscalatesWhenAdvised(t *testing.T) {
	s := NewFireControlStage(&fakeAdvisor{escalate: true})
	req := &Request{}
	d, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.True(t, req.RouteExternal)
}

func TestFireControlPropagatesAdvisorError(t *testing.T) {
	s := NewFireControlStage(&fakeAdvisor{err: errors.New("advisor down")})
	_, err := s.Run(context.Background(), &Request{})
	assert.Error(t, err)
}
