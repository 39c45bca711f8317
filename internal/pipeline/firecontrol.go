package pipeline

import (
	"context"

	"github.com/kurogate/kuro/internal/authn"
)

// EscalationAdvisor is implemented by the frontier router (kept outside
// this package to avoid importing it here). It decides whether a request
// should be routed to an external provider instead of the local backend.
type EscalationAdvisor interface {
	ShouldEscalate(ctx context.Context, caller authn.Caller, intent string, reasoningLevel int) (bool, error)
}

// FireControlStage makes the local-vs-external routing call. Local is the
// default; an advisor may only turn escalation on, never force a caller
// below a capability it already holds.
type FireControlStage struct {
	advisor EscalationAdvisor
}

// NewFireControlStage wraps an EscalationAdvisor. A nil advisor keeps every
// request local.
func NewFireControlStage(advisor EscalationAdvisor) *FireControlStage {
	return &FireControlStage{advisor: advisor}
}

func (s *FireControlStage) Name() string { return "fire_control" }

func (s *FireControlStage) Run(ctx context.Context, req *Request) (Decision, error) {
	if s.advisor == nil {
		req.RouteExternal = false
		return clear(map[string]any{"route": "local"}), nil
	}

	escalate, err := s.advisor.ShouldEscalate(ctx, req.Caller, req.Intent, req.ReasoningLevel)
	if err != nil {
		return Decision{}, err
	}

	req.RouteExternal = escalate
	route := "local"
	if escalate {
		route = "external"
	}
	return clear(map[string]any{"route": route}), nil
}
