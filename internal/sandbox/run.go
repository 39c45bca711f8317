package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/quota"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusKilled  Status = "killed"
	StatusTimeout Status = "timeout"
)

func (s Status) terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusKilled, StatusTimeout:
		return true
	}
	return false
}

// Budget bounds a single run's resource consumption.
type Budget struct {
	RuntimeSeconds int
	MemoryMB       int
	OutputBytes    int64
	MaxFilesTouched int
}

// Run is one sandboxed execution, keyed by both the gateway's run id and
// the sidecar's own id for that execution.
type Run struct {
	RunID       string
	WorkspaceID string
	UserID      string
	Status      Status
	Entrypoint  string
	ExitCode    *int
	Budget      Budget
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time

	sidecarRunID string
	reservation  string
	logs         []string
	artifacts    []string
}

// Sidecar is the external executor the runner delegates actual code
// execution to. The gateway never runs user code itself.
type Sidecar interface {
	// Start asks the sidecar to begin executing entrypoint inside the
	// workspace's files directory, returning the sidecar's own run id.
	Start(ctx context.Context, workspaceDir, entrypoint string, budget Budget) (sidecarRunID string, err error)
	// Poll returns the sidecar's current view of a run: whether it has
	// reached a terminal state, its logs so far, and (once terminal) its
	// exit code and artifact list.
	Poll(ctx context.Context, sidecarRunID string) (SidecarStatus, error)
	// Kill requests the sidecar terminate an in-flight run.
	Kill(ctx context.Context, sidecarRunID string) error
}

// SidecarStatus is the sidecar's terminal-state meta file, decoded.
type SidecarStatus struct {
	Terminal  bool
	Status    Status
	ExitCode  int
	Logs      []string
	Artifacts []string
}

var defaultBudget = Budget{RuntimeSeconds: 30, MemoryMB: 256, OutputBytes: 1 << 20, MaxFilesTouched: 64}

// Runner enqueues and tracks sandbox runs, enforcing per-user concurrency
// and per-minute throttles before ever contacting the sidecar — grounded
// on internal/quota.ConcurrencyLedger's reserve/consume/release shape,
// reused here as a second, independent ledger instance rather than
// overloading the chat-request one.
type Runner struct {
	mu        sync.Mutex
	runs      map[string]*Run
	ledger    *quota.ConcurrencyLedger
	throttles map[string]*rate.Limiter
	sidecar   Sidecar
	store     *Store
	log       *zap.Logger
}

// NewRunner builds a Runner delegating execution to sidecar.
func NewRunner(sidecar Sidecar, store *Store, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		runs:      make(map[string]*Run),
		ledger:    quota.NewConcurrencyLedger(),
		throttles: make(map[string]*rate.Limiter),
		sidecar:   sidecar,
		store:     store,
		log:       log,
	}
}

func (r *Runner) throttleFor(userID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.throttles[userID]
	if !ok {
		// per-minute throttle on run submissions, independent of the
		// concurrency ceiling: 6/minute with a burst of 2.
		l = rate.NewLimiter(rate.Every(10*time.Second), 2)
		r.throttles[userID] = l
	}
	return l
}

// Enqueue checks the caller's concurrency and per-minute throttle, then
// starts the run on the sidecar. It returns the run record immediately;
// the sidecar executes asynchronously.
func (r *Runner) Enqueue(ctx context.Context, userID string, tier authn.Tier, workspaceID, entrypoint string, budget Budget) (*Run, error) {
	if !r.throttleFor(userID).Allow() {
		return nil, fmt.Errorf("sandbox: run submission rate exceeded")
	}

	reservationID, err := r.ledger.Reserve(userID, tier)
	if err != nil {
		return nil, err
	}

	ws, ok := r.store.Get(userID, workspaceID)
	if !ok {
		_ = r.ledger.Release(reservationID)
		return nil, fmt.Errorf("sandbox: workspace %q not found", workspaceID)
	}

	if budget == (Budget{}) {
		budget = defaultBudget
	}

	run := &Run{
		RunID:       uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Status:      StatusQueued,
		Entrypoint:  entrypoint,
		Budget:      budget,
		CreatedAt:   time.Now(),
		reservation: reservationID,
	}

	dir, err := r.store.filesDir(userID, ws.WorkspaceID)
	if err != nil {
		_ = r.ledger.Release(reservationID)
		return nil, err
	}

	sidecarRunID, err := r.sidecar.Start(ctx, dir, entrypoint, budget)
	if err != nil {
		_ = r.ledger.Release(reservationID)
		run.Status = StatusFailed
		now := time.Now()
		run.FinishedAt = &now
		r.log.Error("sandbox run failed to start", zap.String("run_id", run.RunID), zap.Error(err))
		return run, fmt.Errorf("sandbox: sidecar unreachable: %w", err)
	}

	run.sidecarRunID = sidecarRunID
	started := time.Now()
	run.StartedAt = &started
	run.Status = StatusRunning

	r.mu.Lock()
	r.runs[run.RunID] = run
	r.mu.Unlock()

	r.log.Info("sandbox run started",
		zap.String("run_id", run.RunID), zap.String("sidecar_run_id", sidecarRunID),
		zap.String("user_id", userID), zap.String("entrypoint", entrypoint))

	return run, nil
}

// Get returns the run record for a user, refreshing it from the sidecar if
// still in flight. On transition to a terminal state, the run's concurrency
// slot is released exactly once.
func (r *Runner) Get(ctx context.Context, userID, runID string) (*Run, error) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok || run.UserID != userID {
		return nil, fmt.Errorf("sandbox: run %q not found", runID)
	}

	if run.Status.terminal() {
		return run, nil
	}

	sidecarStatus, err := r.sidecar.Poll(ctx, run.sidecarRunID)
	if err != nil {
		return run, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	run.logs = sidecarStatus.Logs
	if !sidecarStatus.Terminal {
		return run, nil
	}

	run.Status = sidecarStatus.Status
	exitCode := sidecarStatus.ExitCode
	run.ExitCode = &exitCode
	run.artifacts = sidecarStatus.Artifacts
	now := time.Now()
	run.FinishedAt = &now

	if err := r.ledger.Release(run.reservation); err != nil {
		r.log.Warn("sandbox run concurrency slot already released", zap.String("run_id", run.RunID))
	}
	r.log.Info("sandbox run finished",
		zap.String("run_id", run.RunID), zap.String("status", string(run.Status)))

	return run, nil
}

// Kill requests the sidecar terminate an in-flight run, marking it killed
// and releasing its concurrency slot.
func (r *Runner) Kill(ctx context.Context, userID, runID string) error {
	r.mu.Lock()
	run, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok || run.UserID != userID {
		return fmt.Errorf("sandbox: run %q not found", runID)
	}
	if run.Status.terminal() {
		return nil
	}

	if err := r.sidecar.Kill(ctx, run.sidecarRunID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	run.Status = StatusKilled
	now := time.Now()
	run.FinishedAt = &now
	if err := r.ledger.Release(run.reservation); err != nil {
		r.log.Warn("sandbox run concurrency slot already released", zap.String("run_id", run.RunID))
	}
	return nil
}

// Logs returns the run's captured log lines so far.
func (r *Run) Logs() []string { return append([]string(nil), r.logs...) }

// Artifacts returns the run's artifact path list (populated once terminal).
func (r *Run) Artifacts() []string { return append([]string(nil), r.artifacts...) }
