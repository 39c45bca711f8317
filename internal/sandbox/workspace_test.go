package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/internal/authn"
)

func TestCreateWorkspaceDisabledForFreeTier(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.CreateWorkspace("user-1", authn.TierFree, "scratch")
	assert.ErrorIs(t, err, ErrSandboxDisabled)
}

func TestCreateWorkspaceSucceedsForProTier(t *testing.T) {
	s := NewStore(t.TempDir())
	ws, err := s.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)
	assert.NotEmpty(t, ws.WorkspaceID)
	assert.Equal(t, "user-1", ws.UserID)

	got, ok := s.Get("user-1", ws.WorkspaceID)
	require.True(t, ok)
	assert.Equal(t, ws.WorkspaceID, got.WorkspaceID)
}

func TestCreateWorkspaceEnforcesCountCeiling(t *testing.T) {
	s := NewStore(t.TempDir())
	for i := 0; i < 5; i++ {
		_, err := s.CreateWorkspace("user-1", authn.TierPro, "scratch")
		require.NoError(t, err)
	}
	_, err := s.CreateWorkspace("user-1", authn.TierPro, "one-too-many")
	var quotaErr *ErrQuotaExceeded
	assert.ErrorAs(t, err, &quotaErr)
}

func TestWriteFileRejectsOversizedFile(t *testing.T) {
	s := NewStore(t.TempDir())
	ws, err := s.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	big := make([]byte, 6<<20)
	_, err = s.WriteFile("user-1", authn.TierPro, ws.WorkspaceID, "big.bin", big)
	var quotaErr *ErrQuotaExceeded
	assert.ErrorAs(t, err, &quotaErr)
}

func TestWriteFileRejectsPathTraversal(t *testing.T) {
	s := NewStore(t.TempDir())
	ws, err := s.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	_, err = s.WriteFile("user-1", authn.TierPro, ws.WorkspaceID, "../../../etc/passwd", []byte("x"))
	assert.Error(t, err)
}

func TestWriteFileSucceedsUnderLimits(t *testing.T) {
	s := NewStore(t.TempDir())
	ws, err := s.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	path, err := s.WriteFile("user-1", authn.TierPro, ws.WorkspaceID, "main.py", []byte("print('hi')"))
	require.NoError(t, err)
	assert.Contains(t, path, ws.WorkspaceID)
}
