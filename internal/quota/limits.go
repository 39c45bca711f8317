// Package quota implements the gateway's per-tier quota and guest-window
// gates. Usage counters are buffered in memory and flushed to durable
// storage on a schedule; checking a quota never mutates state, recording
// usage is a separate call made only after a request succeeds.
package quota

import (
	"fmt"
	"time"

	"github.com/kurogate/kuro/internal/authn"
)

// Action is one quota-metered operation kind.
type Action string

const (
	ActionChat       Action = "chat"
	ActionImageGen   Action = "image_gen"
	ActionShellExec  Action = "shell_exec"
	ActionFileEdit   Action = "file_edit"
	ActionEscalation Action = "frontier_escalation"
)

// Window is the rolling period a limit is measured over.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
	WindowWeek Window = "week"
)

// actionLimit is one action's ceiling within a window, plus an optional soft
// cap enforced over a shorter window without rejecting the request.
type actionLimit struct {
	window       Window
	limit        int
	softWindow   Window
	softLimit    int
}

// tierLimits is the full set of metered actions for one tier, plus the
// tier's maximum concurrent in-flight requests.
type tierLimits struct {
	actions       map[Action]actionLimit
	maxConcurrent int
}

// limitTable is the fixed per-tier quota table. Chat carries both a weekly
// hard limit and a daily soft cap measured within it.
var limitTable = map[authn.Tier]tierLimits{
	authn.TierFree: {
		actions: map[Action]actionLimit{
			ActionChat:      {window: WindowWeek, limit: 140, softWindow: WindowDay, softLimit: 20},
			ActionImageGen:  {window: WindowWeek, limit: 10},
			ActionShellExec:  {window: WindowHour, limit: 0},
			ActionFileEdit:   {window: WindowHour, limit: 0},
			ActionEscalation: {window: WindowHour, limit: 0},
		},
		maxConcurrent: 1,
	},
	authn.TierPro: {
		actions: map[Action]actionLimit{
			ActionChat:      {window: WindowWeek, limit: 1000, softWindow: WindowDay, softLimit: 150},
			ActionImageGen:  {window: WindowWeek, limit: 100},
			ActionShellExec:  {window: WindowHour, limit: 30},
			ActionFileEdit:   {window: WindowHour, limit: 60},
			ActionEscalation: {window: WindowHour, limit: 20},
		},
		maxConcurrent: 3,
	},
	authn.TierSovereign: {
		actions: map[Action]actionLimit{
			ActionChat:      {window: WindowWeek, limit: 10000, softWindow: WindowDay, softLimit: 1500},
			ActionImageGen:  {window: WindowWeek, limit: 1000},
			ActionShellExec:  {window: WindowHour, limit: 200},
			ActionFileEdit:   {window: WindowHour, limit: 400},
			ActionEscalation: {window: WindowHour, limit: 100},
		},
		maxConcurrent: 8,
	},
}

func limitsFor(tier authn.Tier) tierLimits {
	if l, ok := limitTable[tier]; ok {
		return l
	}
	return limitTable[authn.TierFree]
}

// periodKey buckets `now` into the period string used as the counter's
// storage key for the given window.
func periodKey(window Window, now time.Time) string {
	switch window {
	case WindowHour:
		return now.Format("2006010215")
	case WindowDay:
		return now.Format("20060102")
	case WindowWeek:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return now.Format("20060102")
	}
}
