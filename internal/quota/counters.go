package quota

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/internal/authn"
)

// Result is the outcome of a quota check. Checking never mutates state.
type Result struct {
	Allowed    bool
	Used       int
	Limit      int
	Remaining  int
	SoftCapHit bool
}

// counterKey addresses one (user, action, window-period) bucket.
type counterKey struct {
	userID string
	action Action
	period string
}

// Gate is the buffered in-memory quota counter set, flushed to Postgres on
// a schedule. Checking a quota is pure; RecordUsage is the only mutator and
// is meant to be called once, after a metered operation succeeds.
type Gate struct {
	mu       sync.Mutex
	counts   map[counterKey]int
	dirty    map[counterKey]bool
	db       *sql.DB
	log      *logging.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// NewGate constructs a Gate. db may be nil in which case Flush is a no-op
// (counters remain valid for the process lifetime only).
func NewGate(db *sql.DB, log *logging.Logger) *Gate {
	return &Gate{
		counts: make(map[counterKey]int),
		dirty:  make(map[counterKey]bool),
		db:     db,
		log:    log,
		now:    time.Now,
	}
}

// StartFlushSchedule registers a cron job that flushes dirty counters to
// durable storage every minute. Callers that embed Gate in a longer-lived
// process should call this once at startup.
func (g *Gate) StartFlushSchedule(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() {
		if err := g.Flush(ctx); err != nil && g.log != nil {
			g.log.WithContext(ctx).WithError(err).Warn("quota flush failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	g.cron = c
	return nil
}

// Stop halts the flush schedule, if running.
func (g *Gate) Stop() {
	if g.cron != nil {
		g.cron.Stop()
	}
}

// Check reports whether action is allowed for userID at tier, without
// mutating any counter.
func (g *Gate) Check(userID string, tier authn.Tier, action Action) Result {
	limits := limitsFor(tier)
	al, ok := limits.actions[action]
	if !ok || al.limit == 0 {
		return Result{Allowed: al.limit != 0, Used: 0, Limit: al.limit, Remaining: al.limit}
	}

	now := g.now()
	used := g.get(userID, action, periodKey(al.window, now))

	result := Result{
		Allowed:   used < al.limit,
		Used:      used,
		Limit:     al.limit,
		Remaining: maxInt(al.limit-used, 0),
	}

	if al.softWindow != "" {
		softUsed := g.get(userID, action, periodKey(al.softWindow, now))
		if softUsed >= al.softLimit {
			result.SoftCapHit = true
		}
	}
	return result
}

// RecordUsage increments the counters for action across both its hard window
// and (if present) its soft-cap window. Call only after the metered
// operation has completed successfully.
func (g *Gate) RecordUsage(userID string, tier authn.Tier, action Action) {
	limits := limitsFor(tier)
	al, ok := limits.actions[action]
	if !ok {
		return
	}
	now := g.now()
	g.increment(userID, action, periodKey(al.window, now))
	if al.softWindow != "" {
		g.increment(userID, action, periodKey(al.softWindow, now))
	}
}

func (g *Gate) get(userID string, action Action, period string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[counterKey{userID: userID, action: action, period: period}]
}

func (g *Gate) increment(userID string, action Action, period string) {
	key := counterKey{userID: userID, action: action, period: period}
	g.mu.Lock()
	g.counts[key]++
	g.dirty[key] = true
	g.mu.Unlock()
}

// Flush persists dirty counters to the quota_counters table and clears the
// dirty set. A nil db makes Flush a no-op.
func (g *Gate) Flush(ctx context.Context) error {
	if g.db == nil {
		return nil
	}
	g.mu.Lock()
	toFlush := make(map[counterKey]int, len(g.dirty))
	for k := range g.dirty {
		toFlush[k] = g.counts[k]
	}
	g.dirty = make(map[counterKey]bool)
	g.mu.Unlock()

	for k, v := range toFlush {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO quota_counters (user_id, period_key, tier, requests_used, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (user_id, period_key) DO UPDATE SET
				requests_used = $4,
				updated_at = now()`,
			k.userID, string(k.action)+":"+k.period, "", v)
		if err != nil {
			return err
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
