package frontier

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/internal/authn"
)

type fakeQuota struct {
	allow bool
	err   error
}

func (f *fakeQuota) Allow(ctx context.Context, userID string) (bool, error) { return f.allow, f.err }

type fakeAudit struct {
	entries []string
}

func (f *fakeAudit) Append(userID, role, action, resource string, details map[string]any) error {
	f.entries = append(f.entries, action)
	return nil
}

func TestDecideEscalatesBelowThresholdWithQuota(t *testing.T) {
	audit := &fakeAudit{}
	r := New(&fakeQuota{allow: true}, audit, zerolog.Nop(), "openai", "gpt")
	caller := authn.Caller{UserID: "u1", Tier: authn.TierFree, Role: authn.RoleViewer}

	escalate, err := r.Decide(context.Background(), caller, 0.1)
	require.NoError(t, err)
	assert.True(t, escalate)
	assert.Contains(t, audit.entries, "escalate")
}

func TestDecideStaysLocalAboveThreshold(t *testing.T) {
	r := New(&fakeQuota{allow: true}, nil, zerolog.Nop(), "openai", "gpt")
	caller := authn.Caller{UserID: "u1", Tier: authn.TierFree}

	escalate, err := r.Decide(context.Background(), caller, 0.9)
	require.NoError(t, err)
	assert.False(t, escalate)
}

func TestDecideNeverEscalatesSovereignTier(t *testing.T) {
	r := New(&fakeQuota{allow: true}, nil, zerolog.Nop(), "openai", "gpt")
	caller := authn.Caller{UserID: "u1", Tier: authn.TierSovereign}

	escalate, err := r.Decide(context.Background(), caller, 0.0)
	require.NoError(t, err)
	assert.False(t, escalate)
}

func TestDecideStaysLocalWhenQuotaExhausted(t *testing.T) {
	r := New(&fakeQuota{allow: false}, nil, zerolog.Nop(), "openai", "gpt")
	caller := authn.Caller{UserID: "u1", Tier: authn.TierPro}

	escalate, err := r.Decide(context.Background(), caller, 0.0)
	require.NoError(t, err)
	assert.False(t, escalate)
}

func TestDecidePropagatesQuotaError(t *testing.T) {
	r := New(&fakeQuota{err: errors.New("db down")}, nil, zerolog.Nop(), "openai", "gpt")
	caller := authn.Caller{UserID: "u1", Tier: authn.TierPro}

	_, err := r.Decide(context.Background(), caller, 0.0)
	assert.Error(t, err)
}

func TestShouldEscalateDerivesPOHFromIntent(t *testing.T) {
	r := New(&fakeQuota{allow: true}, nil, zerolog.Nop(), "openai", "gpt")
	caller := authn.Caller{UserID: "u1", Tier: authn.TierFree}

	escalate, err := r.ShouldEscalate(context.Background(), caller, "analysis", 3)
	require.NoError(t, err)
	assert.True(t, escalate)
}
