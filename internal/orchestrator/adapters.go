package orchestrator

import (
	"context"

	"github.com/kurogate/kuro/internal/audit"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/frontier"
	"github.com/kurogate/kuro/internal/quota"
)

// auditRecorderAdapter reconciles *audit.Chain.Append's (Entry, error)
// return with frontier.AuditRecorder's narrower error-only signature —
// the orchestrator is the wiring point where the gap between the two
// independently-declared interfaces is closed, rather than either package
// importing the other.
type auditRecorderAdapter struct {
	chain *audit.Chain
}

func newAuditRecorderAdapter(chain *audit.Chain) frontier.AuditRecorder {
	return &auditRecorderAdapter{chain: chain}
}

func (a *auditRecorderAdapter) Append(userID, role, action, resource string, details map[string]any) error {
	_, err := a.chain.Append(userID, role, action, resource, details)
	return err
}

// hourlyEscalationQuota is a narrow frontier.QuotaChecker backed by the
// shared quota.Gate, metering external-provider escalations under their
// own action so they don't share a bucket with ordinary chat turns.
type hourlyEscalationQuota struct {
	gate *quota.Gate
	tier func(userID string) authn.Tier
}

func newHourlyEscalationQuota(gate *quota.Gate, tier func(userID string) authn.Tier) frontier.QuotaChecker {
	return &hourlyEscalationQuota{gate: gate, tier: tier}
}

func (h *hourlyEscalationQuota) Allow(ctx context.Context, userID string) (bool, error) {
	result := h.gate.Check(userID, h.tier(userID), quota.ActionEscalation)
	return result.Allowed, nil
}

// NewAuditRecorderAdapter exposes the audit-chain adapter to cmd/gateway,
// which wires the concrete frontier.Router at startup.
func NewAuditRecorderAdapter(chain *audit.Chain) frontier.AuditRecorder {
	return newAuditRecorderAdapter(chain)
}

// NewHourlyEscalationQuota exposes the quota-gate adapter to cmd/gateway.
func NewHourlyEscalationQuota(gate *quota.Gate, tier func(userID string) authn.Tier) frontier.QuotaChecker {
	return newHourlyEscalationQuota(gate, tier)
}
