package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/internal/audit"
	"github.com/kurogate/kuro/internal/telemetry"
)

// computeAuditStats sweeps every day file for totals, distinguishing
// escalation entries (frontier.Router.logEscalation's "escalate" action)
// from everything else, for both /api/audit/stats and /api/sovereignty.
func computeAuditStats(d *deps) (telemetry.AuditStats, error) {
	days, err := d.AuditSink.Days()
	if err != nil {
		return telemetry.AuditStats{}, err
	}

	var stats telemetry.AuditStats
	for _, day := range days {
		entries, err := d.AuditSink.ReadDay(day)
		if err != nil {
			return telemetry.AuditStats{}, err
		}
		for _, e := range entries {
			stats.TotalEntries++
			if e.Action == "escalate" {
				stats.EscalationEntries++
			}
		}
	}
	stats.ChainHead = d.AuditChain.Head().LastHash
	return stats, nil
}

// handleAuditStats reports entry counts and the current chain head.
func handleAuditStats(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := computeAuditStats(d)
		if err != nil {
			httputil.InternalError(w, "audit stats unavailable")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}
}

// handleAuditRecent returns the most recent N entries (default 50, capped at
// 500), read newest-day-first.
func handleAuditRecent(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := httputil.QueryInt(r, "limit", 50)
		if limit <= 0 {
			limit = 50
		}
		if limit > 500 {
			limit = 500
		}

		days, err := d.AuditSink.Days()
		if err != nil {
			httputil.InternalError(w, "audit log unavailable")
			return
		}

		var recent []audit.Entry
		for i := len(days) - 1; i >= 0 && len(recent) < limit; i-- {
			entries, err := d.AuditSink.ReadDay(days[i])
			if err != nil {
				httputil.InternalError(w, "audit log unavailable")
				return
			}
			for j := len(entries) - 1; j >= 0 && len(recent) < limit; j-- {
				recent = append(recent, entries[j])
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": recent})
	}
}

// handleAuditVerify replays every day file in chronological order and
// reports the first tampered sequence number, if any.
func handleAuditVerify(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := d.AuditSink.Days()
		if err != nil {
			httputil.InternalError(w, "audit log unavailable")
			return
		}

		var priorHead audit.Head
		var tamperedSeq int64
		var tamperedDay string
		for _, day := range days {
			entries, err := d.AuditSink.ReadDay(day)
			if err != nil {
				httputil.InternalError(w, "audit log unavailable")
				return
			}
			if len(entries) == 0 {
				continue
			}
			seq, verr := d.AuditChain.Verify(entries, priorHead)
			if verr != nil {
				httputil.InternalError(w, "audit verification failed")
				return
			}
			if seq != 0 {
				tamperedSeq = seq
				tamperedDay = day
				break
			}
			last := entries[len(entries)-1]
			priorHead = audit.Head{Seq: last.Seq, LastHash: last.Hash}
		}

		if tamperedSeq != 0 {
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"intact":      false,
				"tamperedSeq": tamperedSeq,
				"day":         tamperedDay,
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"intact": true})
	}
}

// handleAuditSeal appends a day_sealed marker for today (or the day given by
// the "day" query param) and flushes the chain head.
func handleAuditSeal(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := httputil.QueryString(r, "day", time.Now().UTC().Format("20060102"))
		if err := d.Sealer.SealDay(r.Context(), day); err != nil {
			httputil.InternalError(w, fmt.Sprintf("seal failed: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"sealed": day})
	}
}
