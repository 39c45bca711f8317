// Package frontier decides whether a chat request is served by the local
// backend or escalated to an external provider, and records every
// escalation in the audit chain for sovereignty accounting.
package frontier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kurogate/kuro/internal/authn"
)

// tierThreshold is the per-tier POH ceiling below which a request is a
// candidate for escalation. Sovereign callers never escalate — routing
// their requests externally would defeat the point of the tier.
var tierThreshold = map[authn.Tier]float64{
	authn.TierFree:      0.35,
	authn.TierPro:       0.2,
	authn.TierSovereign: 0,
}

// AuditRecorder records escalations in the audit chain. audit.Chain.Append
// returns (Entry, error), so the chain is wired in through an adapter
// (orchestrator.NewAuditRecorderAdapter) rather than imported here.
type AuditRecorder interface {
	Append(userID, role, action, resource string, details map[string]any) error
}

// QuotaChecker reports whether a caller still has headroom in the
// provider's per-user hourly escalation quota.
type QuotaChecker interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// Router decides local-vs-external routing and logs the decision.
type Router struct {
	quota  QuotaChecker
	audit  AuditRecorder
	log    zerolog.Logger
	provider string
	model    string
}

// New builds a frontier router. provider/model name the external provider
// used when a request escalates.
func New(quota QuotaChecker, audit AuditRecorder, log zerolog.Logger, provider, model string) *Router {
	return &Router{quota: quota, audit: audit, log: log, provider: provider, model: model}
}

// ShouldEscalate satisfies pipeline.EscalationAdvisor. poh is the caller's
// heuristic confidence score for this request — lower means less
// confidence the local backend can handle it well, and is therefore a
// stronger escalation candidate.
func (r *Router) ShouldEscalate(ctx context.Context, caller authn.Caller, intent string, reasoningLevel int) (bool, error) {
	poh := heuristicPOH(intent, reasoningLevel)
	return r.Decide(ctx, caller, poh)
}

// Decide applies the threshold-and-quota rule directly, for callers that
// have already computed a POH score.
func (r *Router) Decide(ctx context.Context, caller authn.Caller, poh float64) (bool, error) {
	threshold, ok := tierThreshold[caller.Tier]
	if !ok {
		threshold = tierThreshold[authn.TierFree]
	}
	if threshold <= 0 {
		return false, nil
	}
	if poh >= threshold {
		return false, nil
	}

	if r.quota != nil {
		allowed, err := r.quota.Allow(ctx, caller.UserID)
		if err != nil {
			return false, fmt.Errorf("frontier: quota check failed: %w", err)
		}
		if !allowed {
			r.log.Info().Str("user_id", caller.UserID).Msg("escalation skipped: provider quota exhausted")
			return false, nil
		}
	}

	r.logEscalation(caller, poh)
	return true, nil
}

func (r *Router) logEscalation(caller authn.Caller, poh float64) {
	r.log.Info().
		Str("user_id", caller.UserID).
		Str("provider", r.provider).
		Str("model", r.model).
		Float64("poh", poh).
		Msg("escalating to external provider")

	if r.audit != nil {
		_ = r.audit.Append(caller.UserID, string(caller.Role), "escalate", r.provider, map[string]any{
			"provider": r.provider,
			"model":    r.model,
			"poh":      poh,
		})
	}
}

// heuristicPOH is a cheap, deterministic stand-in for a real confidence
// model: harder intents and deeper reasoning levels lower confidence that
// the local backend alone is sufficient.
func heuristicPOH(intent string, reasoningLevel int) float64 {
	base := 0.6
	switch intent {
	case "analysis":
		base -= 0.15
	case "code":
		base -= 0.1
	}
	base -= float64(reasoningLevel) * 0.1
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return base
}
