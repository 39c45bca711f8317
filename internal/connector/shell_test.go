package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/internal/authn"
)

func TestShellExecRunsAllowlistedBinary(t *testing.T) {
	dataRoot := t.TempDir()
	c := NewShellConnector(dataRoot, dataRoot, nil)

	result, err := c.Exec(context.Background(), testCaller(authn.TierSovereign), ".", "ls", []string{"-la"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.NotEmpty(t, result.StdoutHash)
}

func TestShellExecRejectsNonAllowlistedBinary(t *testing.T) {
	dataRoot := t.TempDir()
	c := NewShellConnector(dataRoot, dataRoot, nil)

	_, err := c.Exec(context.Background(), testCaller(authn.TierSovereign), ".", "curl", []string{"http://example.com"})
	assert.Error(t, err)
}

func TestShellExecRejectsDenylistedArgument(t *testing.T) {
	dataRoot := t.TempDir()
	c := NewShellConnector(dataRoot, dataRoot, nil)

	_, err := c.Exec(context.Background(), testCaller(authn.TierSovereign), ".", "git", []string{"push", "--force"})
	assert.Error(t, err)
}

func TestShellExecRequiresExecCapability(t *testing.T) {
	dataRoot := t.TempDir()
	c := NewShellConnector(dataRoot, dataRoot, nil)

	_, err := c.Exec(context.Background(), testCaller(authn.TierFree), ".", "ls", nil)
	assert.Error(t, err)
}

func TestShellExecRejectsTooManyArgs(t *testing.T) {
	dataRoot := t.TempDir()
	c := NewShellConnector(dataRoot, dataRoot, nil)

	_, err := c.Exec(context.Background(), testCaller(authn.TierSovereign), ".", "cat", []string{"a", "b", "c"})
	assert.Error(t, err)
}
