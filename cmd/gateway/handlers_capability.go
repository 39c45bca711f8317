package main

import (
	"net/http"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/capability"
)

type capabilityNegotiateRequest struct {
	Profile        string `json:"profile"`
	DeviceHint     string `json:"deviceHint"`
	ForceDowngrade bool   `json:"forceDowngrade"`
}

// handleCapabilityNegotiate resolves a requested power-dial profile down to
// the caller's tier ceiling, applying the optional policy-engine override
// and the thermal forced-downgrade signal.
func handleCapabilityNegotiate(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		var req capabilityNegotiateRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}

		forceDowngrade := req.ForceDowngrade
		if !forceDowngrade {
			snap := d.Telemetry.Snapshot(r.Context())
			forceDowngrade = snap.ThermalWarning
		}

		if d.PolicyEngine != nil {
			allowed, err := d.PolicyEngine.Allow(map[string]any{
				"userId":  caller.UserID,
				"tier":    string(caller.Tier),
				"profile": req.Profile,
			})
			if err == nil && !allowed {
				forceDowngrade = true
			}
		}

		resolution := capability.Resolve(capability.Profile(req.Profile), caller.Tier, capability.Profile(req.DeviceHint), forceDowngrade)
		resolution = capability.ApplyOverrides(resolution, d.ProfileOverrides)
		httputil.WriteJSON(w, http.StatusOK, resolution)
	}
}

// handleCapabilityProfiles lists every named power-dial profile and its
// effective configuration (after any deployment-supplied override document
// reshapes it), for clients building a profile picker.
func handleCapabilityProfiles(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles := []capability.Profile{
			capability.ProfileInstant,
			capability.ProfileBalanced,
			capability.ProfileDeep,
			capability.ProfileSovereign,
		}
		out := make([]map[string]any, 0, len(profiles))
		for _, p := range profiles {
			resolution := capability.ApplyOverrides(capability.Resolve(p, authn.TierSovereign, "", false), d.ProfileOverrides)
			out = append(out, map[string]any{"profile": p, "config": resolution.Config})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"profiles": out})
	}
}
