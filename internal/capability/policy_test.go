package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyEngineEvaluatesContextFields(t *testing.T) {
	p := NewPolicyEngine(`context.tier === "sovereign"`)

	allowed, err := p.Allow(map[string]any{"tier": "sovereign"})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = p.Allow(map[string]any{"tier": "free"})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestPolicyEngineDefaultsToAllow(t *testing.T) {
	p := NewPolicyEngine("")
	allowed, err := p.Allow(map[string]any{})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestPolicyEngineRejectsNonBooleanScript(t *testing.T) {
	p := NewPolicyEngine(`"not a boolean"`)
	_, err := p.Allow(map[string]any{})
	assert.Error(t, err)
}

func TestProfileDocumentQuery(t *testing.T) {
	doc, err := ParseProfileDocument([]byte(`{"overrides":{"sovereign":{"toolSubset":["shell","file"]}}}`))
	require.NoError(t, err)

	result, err := doc.Query("$.overrides.sovereign.toolSubset")
	require.NoError(t, err)
	assert.NotNil(t, result)
}
