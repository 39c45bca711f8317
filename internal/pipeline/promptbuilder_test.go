package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptBuilderAssemblesAllSections(t *testing.T) {
	p := NewPromptBuilder()
	req := &Request{
		Agent:           "engineer",
		EffectiveMode:   "deep",
		Skill:           "code",
		ReasoningLevel:  2,
		RetrievedChunks: []string{"chunk one", "chunk two"},
	}
	d, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Blocked)
	assert.Contains(t, req.SystemPrompt, "engineering agent")
	assert.Contains(t, req.SystemPrompt, "Reason carefully")
	assert.Contains(t, req.SystemPrompt, "Reasoning sub-protocol: enabled")
	assert.Contains(t, req.SystemPrompt, "Retrieved context:")
	assert.Contains(t, req.SystemPrompt, "chunk one")
}

func TestPromptBuilderFallsBackToModeWhenEffectiveModeEmpty(t *testing.T) {
	p := NewPromptBuilder()
	req := &Request{Mode: "instant"}
	_, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, req.SystemPrompt, "Respond quickly")
}

func TestPromptBuilderOmitsRetrievalSectionWhenEmpty(t *testing.T) {
	p := NewPromptBuilder()
	req := &Request{Agent: "generalist"}
	_, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.NotContains(t, req.SystemPrompt, "Retrieved context:")
}
