package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicySignerRoundTrip(t *testing.T) {
	signer := NewPolicySigner([]byte("0123456789abcdef"), time.Minute)

	token, err := signer.Sign("sess-1", "instant", true, "tier_ceiling")
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "sess-1", claims.SessionID)
	require.Equal(t, "instant", claims.Profile)
	require.True(t, claims.Downgraded)
	require.Equal(t, "tier_ceiling", claims.Reason)
}

func TestPolicySignerRejectsTamperedToken(t *testing.T) {
	signer := NewPolicySigner([]byte("0123456789abcdef"), time.Minute)
	token, err := signer.Sign("sess-1", "instant", false, "")
	require.NoError(t, err)

	other := NewPolicySigner([]byte("ffffffffffffffff"), time.Minute)
	_, err = other.Verify(token)
	require.Error(t, err)
}
