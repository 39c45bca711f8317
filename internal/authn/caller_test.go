package authn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreeTierNeverGetsElevatedCapabilities(t *testing.T) {
	caller := callerForTier("user-1", "", TierFree, AuthMethodSession)
	assert.False(t, caller.Has(CapWrite))
	assert.False(t, caller.Has(CapExec))
	assert.True(t, caller.Has(CapRead))
}

func TestSovereignTierGetsAllCapabilities(t *testing.T) {
	caller := callerForTier("user-1", "", TierSovereign, AuthMethodSession)
	assert.True(t, caller.Has(CapWrite))
	assert.True(t, caller.Has(CapExec))
	assert.True(t, caller.Has(CapAggregate))
}

func TestUnknownTierFallsBackToFree(t *testing.T) {
	caller := callerForTier("user-1", "", Tier("bogus"), AuthMethodSession)
	assert.Equal(t, TierFree, caller.Tier)
	assert.False(t, caller.Has(CapWrite))
}

func TestAnonymousCallerIsGuestWithReadOnly(t *testing.T) {
	caller := anonymousCaller()
	assert.True(t, caller.IsGuest)
	assert.Equal(t, RoleGuest, caller.Role)
	assert.True(t, caller.Has(CapRead))
	assert.False(t, caller.Has(CapWrite))
}
