package pipeline

import (
	"context"
	"strings"
)

var modePrompts = map[string]string{
	"instant":  "Respond quickly and concisely. Favor short, direct answers.",
	"balanced": "Respond thoughtfully, weighing correctness against response time.",
	"deep":     "Reason carefully through the problem before answering. Show your work when it clarifies the answer.",
	"":         "Respond thoughtfully, weighing correctness against response time.",
}

var skillAddenda = map[string]string{
	"code":       "You are assisting with software engineering. Prefer concrete, runnable answers over abstractions.",
	"research":   "You are assisting with research. Cite the retrieved context you relied on.",
	"writing":    "You are assisting with writing. Preserve the user's voice; avoid rewriting more than asked.",
	"operations": "You are assisting with operational tasks. Confirm the blast radius of any destructive action before describing how to perform it.",
}

var agentHeaders = map[string]string{
	"engineer":   "You are Kuro operating as an engineering agent.",
	"muse":       "You are Kuro operating as a creative-writing agent.",
	"analyst":    "You are Kuro operating as an analysis agent.",
	"generalist": "You are Kuro, a general-purpose assistant.",
}

// PromptBuilder assembles the final system prompt from the mode's base
// prompt, the skill addendum, ghost-protocol toggles (reasoning/speculative
// sub-protocol disclosures), retrieved context blocks, and the agent header.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

func (p *PromptBuilder) Name() string { return "prompt_builder" }

func (p *PromptBuilder) Run(ctx context.Context, req *Request) (Decision, error) {
	var b strings.Builder

	header := agentHeaders[req.Agent]
	if header == "" {
		header = agentHeaders["generalist"]
	}
	b.WriteString(header)
	b.WriteString("\n\n")

	mode := req.EffectiveMode
	if mode == "" {
		mode = req.Mode
	}
	b.WriteString(modePrompts[mode])
	b.WriteString("\n")

	if addendum, ok := skillAddenda[req.Skill]; ok {
		b.WriteString(addendum)
		b.WriteString("\n")
	}

	if req.ReasoningLevel >= 2 {
		b.WriteString("Reasoning sub-protocol: enabled. Think step by step before producing the final answer.\n")
	}

	if len(req.RetrievedChunks) > 0 {
		b.WriteString("\nRetrieved context:\n")
		for _, chunk := range req.RetrievedChunks {
			b.WriteString("- ")
			b.WriteString(chunk)
			b.WriteString("\n")
		}
	}

	req.SystemPrompt = strings.TrimRight(b.String(), "\n")
	return clear(map[string]any{"length": len(req.SystemPrompt)}), nil
}
