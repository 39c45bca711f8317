package sandbox

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/internal/authn"
)

type fakeSidecar struct {
	mu        sync.Mutex
	startErr  error
	nextID    int
	statuses  map[string]SidecarStatus
	killCalls []string
}

func newFakeSidecar() *fakeSidecar {
	return &fakeSidecar{statuses: make(map[string]SidecarStatus)}
}

func (f *fakeSidecar) Start(ctx context.Context, workspaceDir, entrypoint string, budget Budget) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sidecar-%d", f.nextID)
	f.statuses[id] = SidecarStatus{Terminal: false}
	return id, nil
}

func (f *fakeSidecar) Poll(ctx context.Context, sidecarRunID string) (SidecarStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[sidecarRunID], nil
}

func (f *fakeSidecar) Kill(ctx context.Context, sidecarRunID string) error {
	f.killCalls = append(f.killCalls, sidecarRunID)
	return nil
}

func (f *fakeSidecar) setTerminal(sidecarRunID string, status SidecarStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sidecarRunID] = status
}

func TestEnqueueStartsRunAndReservesSlot(t *testing.T) {
	store := NewStore(t.TempDir())
	ws, err := store.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	sc := newFakeSidecar()
	r := NewRunner(sc, store, nil)

	run, err := r.Enqueue(context.Background(), "user-1", authn.TierPro, ws.WorkspaceID, "main.py", Budget{})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, 1, r.ledger.InFlight("user-1"))
}

func TestEnqueuePropagatesSidecarStartFailure(t *testing.T) {
	store := NewStore(t.TempDir())
	ws, err := store.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	sc := newFakeSidecar()
	sc.startErr = fmt.Errorf("sidecar down")
	r := NewRunner(sc, store, nil)

	_, err = r.Enqueue(context.Background(), "user-1", authn.TierPro, ws.WorkspaceID, "main.py", Budget{})
	assert.Error(t, err)
	assert.Equal(t, 0, r.ledger.InFlight("user-1"))
}

func TestGetTransitionsToTerminalAndReleasesSlot(t *testing.T) {
	store := NewStore(t.TempDir())
	ws, err := store.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	sc := newFakeSidecar()
	r := NewRunner(sc, store, nil)

	run, err := r.Enqueue(context.Background(), "user-1", authn.TierPro, ws.WorkspaceID, "main.py", Budget{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.ledger.InFlight("user-1"))

	sc.setTerminal(run.sidecarRunID, SidecarStatus{
		Terminal: true, Status: StatusDone, ExitCode: 0,
		Logs: []string{"hello"}, Artifacts: []string{"out.txt"},
	})

	got, err := r.Get(context.Background(), "user-1", run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, []string{"out.txt"}, got.Artifacts())
	assert.Equal(t, 0, r.ledger.InFlight("user-1"))
}

func TestEnqueueEnforcesConcurrencyCeiling(t *testing.T) {
	store := NewStore(t.TempDir())
	proWs, err := store.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	sc := newFakeSidecar()
	r := NewRunner(sc, store, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Enqueue(context.Background(), "user-1", authn.TierPro, proWs.WorkspaceID, "main.py", Budget{})
		require.NoError(t, err)
	}
	_, err = r.Enqueue(context.Background(), "user-1", authn.TierPro, proWs.WorkspaceID, "main.py", Budget{})
	assert.Error(t, err)
}

func TestKillMarksRunKilledAndReleasesSlot(t *testing.T) {
	store := NewStore(t.TempDir())
	ws, err := store.CreateWorkspace("user-1", authn.TierPro, "scratch")
	require.NoError(t, err)

	sc := newFakeSidecar()
	r := NewRunner(sc, store, nil)

	run, err := r.Enqueue(context.Background(), "user-1", authn.TierPro, ws.WorkspaceID, "main.py", Budget{})
	require.NoError(t, err)

	err = r.Kill(context.Background(), "user-1", run.RunID)
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "user-1", run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusKilled, got.Status)
	assert.Equal(t, 0, r.ledger.InFlight("user-1"))
	assert.Contains(t, sc.killCalls, run.sidecarRunID)
}
