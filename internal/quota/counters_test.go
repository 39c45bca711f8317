package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/internal/authn"
)

func TestGateCheckDoesNotMutate(t *testing.T) {
	g := NewGate(nil, nil)

	before := g.Check("user-1", authn.TierFree, ActionChat)
	after := g.Check("user-1", authn.TierFree, ActionChat)
	assert.Equal(t, before, after)
}

func TestGateRecordUsageIncrementsCheckedCount(t *testing.T) {
	g := NewGate(nil, nil)

	g.RecordUsage("user-1", authn.TierFree, ActionChat)
	result := g.Check("user-1", authn.TierFree, ActionChat)
	assert.Equal(t, 1, result.Used)
	assert.True(t, result.Allowed)
}

func TestGateSoftCapHitDoesNotBlock(t *testing.T) {
	g := NewGate(nil, nil)

	for i := 0; i < 20; i++ {
		g.RecordUsage("user-1", authn.TierFree, ActionChat)
	}

	result := g.Check("user-1", authn.TierFree, ActionChat)
	require.True(t, result.Allowed)
	assert.True(t, result.SoftCapHit)
}

func TestGateZeroLimitDeniesAction(t *testing.T) {
	g := NewGate(nil, nil)
	result := g.Check("user-1", authn.TierFree, ActionShellExec)
	assert.False(t, result.Allowed)
}

func TestGateFlushWithNilDBIsNoop(t *testing.T) {
	g := NewGate(nil, nil)
	g.RecordUsage("user-1", authn.TierPro, ActionChat)
	assert.NoError(t, g.Flush(nil))
}
