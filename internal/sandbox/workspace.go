// Package sandbox implements the gateway's budgeted code-execution sandbox:
// per-user workspaces, an asynchronous run lifecycle delegating actual
// execution to an external sidecar, and strict-allowlist artifact serving.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/validate"
)

// tierWorkspaceLimits caps how many workspaces and how much storage a tier
// may hold, mirroring the shape of internal/quota's per-tier limit table.
type tierWorkspaceLimits struct {
	maxWorkspaces int
	maxTotalBytes int64
	maxFileBytes  int64
}

var workspaceLimitTable = map[authn.Tier]tierWorkspaceLimits{
	authn.TierFree:      {maxWorkspaces: 0, maxTotalBytes: 0, maxFileBytes: 0},
	authn.TierPro:       {maxWorkspaces: 5, maxTotalBytes: 50 << 20, maxFileBytes: 5 << 20},
	authn.TierSovereign: {maxWorkspaces: 20, maxTotalBytes: 500 << 20, maxFileBytes: 25 << 20},
}

// Workspace is a per-user scratch directory record.
type Workspace struct {
	WorkspaceID string
	UserID      string
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ErrQuotaExceeded is returned when a workspace or write would breach the
// caller's tier limits.
type ErrQuotaExceeded struct {
	Reason string
}

func (e *ErrQuotaExceeded) Error() string { return "sandbox: quota exceeded: " + e.Reason }

// ErrSandboxDisabled is returned when the caller's tier has no sandbox
// access at all (the free tier).
var ErrSandboxDisabled = fmt.Errorf("sandbox: disabled for this tier")

// Store owns workspace metadata and the on-disk files beneath it: validate
// the key, check quota, then touch the filesystem — except here the backend
// is real files on disk (via internal/validate.ResolveUnder) rather than an
// abstract key-value store, since sidecar execution needs actual paths to
// mount.
type Store struct {
	mu         sync.Mutex
	baseDir    string
	workspaces map[string]*Workspace   // workspaceId -> workspace
	byUser     map[string][]string     // userId -> workspaceIds
}

// NewStore builds a Store rooted at baseDir (typically "sandboxes").
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir:    baseDir,
		workspaces: make(map[string]*Workspace),
		byUser:     make(map[string][]string),
	}
}

// CreateWorkspace allocates a new workspace for userID at tier, refusing
// when the tier disallows sandbox use entirely or the per-user workspace
// count is already at its ceiling.
func (s *Store) CreateWorkspace(userID string, tier authn.Tier, name string) (*Workspace, error) {
	limits, ok := workspaceLimitTable[tier]
	if !ok || limits.maxWorkspaces == 0 {
		return nil, ErrSandboxDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byUser[userID]) >= limits.maxWorkspaces {
		return nil, &ErrQuotaExceeded{Reason: "workspace count at tier ceiling"}
	}

	ws := &Workspace{
		WorkspaceID: uuid.NewString(),
		UserID:      userID,
		Name:        name,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	dir, err := s.filesDir(userID, ws.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sandbox: create workspace dir: %w", err)
	}

	s.workspaces[ws.WorkspaceID] = ws
	s.byUser[userID] = append(s.byUser[userID], ws.WorkspaceID)
	return ws, nil
}

// Get returns the workspace record, or false if it doesn't exist or
// belongs to a different user.
func (s *Store) Get(userID, workspaceID string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok || ws.UserID != userID {
		return nil, false
	}
	return ws, true
}

// WriteFile writes body under the workspace's files root, validating the
// relative path, the tier's per-file size ceiling, and the tier's total
// workspace byte ceiling before touching disk.
func (s *Store) WriteFile(userID string, tier authn.Tier, workspaceID, relPath string, body []byte) (string, error) {
	limits, ok := workspaceLimitTable[tier]
	if !ok || limits.maxWorkspaces == 0 {
		return "", ErrSandboxDisabled
	}
	if int64(len(body)) > limits.maxFileBytes {
		return "", &ErrQuotaExceeded{Reason: fmt.Sprintf("file exceeds %d byte limit", limits.maxFileBytes)}
	}

	ws, ok := s.Get(userID, workspaceID)
	if !ok {
		return "", fmt.Errorf("sandbox: workspace %q not found", workspaceID)
	}

	dir, err := s.filesDir(userID, workspaceID)
	if err != nil {
		return "", err
	}
	resolved, err := validate.ResolveUnder(dir, relPath)
	if err != nil {
		return "", err
	}

	total, err := dirSize(dir)
	if err != nil {
		return "", err
	}
	if total+int64(len(body)) > limits.maxTotalBytes {
		return "", &ErrQuotaExceeded{Reason: "workspace total size at tier ceiling"}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return "", fmt.Errorf("sandbox: create parent dir: %w", err)
	}
	if err := os.WriteFile(resolved, body, 0o600); err != nil {
		return "", fmt.Errorf("sandbox: write file: %w", err)
	}

	s.mu.Lock()
	ws.UpdatedAt = time.Now()
	s.mu.Unlock()

	return resolved, nil
}

// filesDir returns {base}/{userId}/{workspaceId}/files, the root every
// workspace file write and the sidecar's mount must resolve under.
func (s *Store) filesDir(userID, workspaceID string) (string, error) {
	userDir, err := validate.ResolveUnder(s.baseDir, userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(userDir, workspaceID, "files"), nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}
