package pipeline

import (
	"context"
)

// agentSpec names an agent persona and the minimum caller level it requires.
type agentSpec struct {
	name     string
	minLevel int
	mode     string
}

var agentsByIntent = map[string]agentSpec{
	"code":     {name: "engineer", minLevel: 2, mode: "deep"},
	"creative": {name: "muse", minLevel: 1, mode: "balanced"},
	"analysis": {name: "analyst", minLevel: 2, mode: "deep"},
	"chat":     {name: "generalist", minLevel: 0, mode: "balanced"},
}

var fallbackAgent = agentSpec{name: "generalist", minLevel: 0, mode: "balanced"}

// AgentOrchestrator picks an agent persona and effective mode for the
// request's intent, downgrading to a lower-level agent (never blocking)
// when the caller's tier can't reach the intent's preferred agent.
type AgentOrchestrator struct{}

func NewAgentOrchestrator() *AgentOrchestrator { return &AgentOrchestrator{} }

func (a *AgentOrchestrator) Name() string { return "agent_orchestrator" }

func (a *AgentOrchestrator) Run(ctx context.Context, req *Request) (Decision, error) {
	spec, ok := agentsByIntent[req.Intent]
	if !ok {
		spec = fallbackAgent
	}

	if req.Caller.Level < spec.minLevel {
		req.Agent = fallbackAgent.name
		req.EffectiveMode = fallbackAgent.mode
		req.DowngradeReason = "insufficient_tier_for_agent"
		return clear(map[string]any{"agent": req.Agent, "downgraded": true}), nil
	}

	req.Agent = spec.name
	req.EffectiveMode = spec.mode
	return clear(map[string]any{"agent": req.Agent, "downgraded": false}), nil
}
