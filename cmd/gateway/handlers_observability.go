package main

import (
	"net/http"
	"time"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/internal/telemetry"
)

// handleHealth reports process liveness plus a best-effort host snapshot.
func handleHealth(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Telemetry.Snapshot(r.Context())
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"version":        gatewayVersion,
			"time":           time.Now().UTC(),
			"loadAverage1m":  snap.LoadAverage1m,
			"memoryUsedPct":  snap.MemoryUsedPct,
			"highestTempC":   snap.HighestTempC,
			"thermalWarning": snap.ThermalWarning,
			"uptimeSeconds":  snap.UptimeSeconds,
		})
	}
}

// handleSovereignty reports the locality-proof payload: what fraction of
// traffic stayed on the local backend versus escalated to an external
// provider, alongside current host health.
func handleSovereignty(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := computeAuditStats(d)
		if err != nil {
			httputil.InternalError(w, "sovereignty report unavailable")
			return
		}
		snap := d.Telemetry.Snapshot(r.Context())
		report := telemetry.BuildSovereigntyReport(snap, stats)
		httputil.WriteJSON(w, http.StatusOK, report)
	}
}

// handleFrontierStatus reports the current host thermal state, since thermal
// pressure is one of the forced-downgrade signals that keeps requests local.
// The escalation provider and model are not included.
func handleFrontierStatus(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Telemetry.Snapshot(r.Context())
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"thermalWarning": snap.ThermalWarning,
			"highestTempC":   snap.HighestTempC,
		})
	}
}
