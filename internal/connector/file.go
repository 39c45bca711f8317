// Package connector implements the gateway's file and shell accessors; it
// has no session-history accessor. Each is wrapped by a capability check
// derived from the caller's capabilities and the deployment profile; a deny
// list always wins over an allow scope.
package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	svcerrors "github.com/kurogate/kuro/infrastructure/errors"
	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/infrastructure/redaction"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/validate"
)

// readScopeTable maps a caller's tier to the path prefixes (relative to the
// data root) it may read. A deny list always wins over this table.
var readScopeTable = map[authn.Tier][]string{
	authn.TierFree:      {"public/"},
	authn.TierPro:       {"public/", "workspaces/"},
	authn.TierSovereign: {"public/", "workspaces/", "shared/"},
}

// denyList is always checked first and always wins.
var denyList = []string{"audit/", "secrets/", ".git/"}

// WriteRecord is returned after a successful write.
type WriteRecord struct {
	Path    string
	Size    int64
	SHA256  string
	Backup  string
}

// FileConnector reads and writes under a bounded data root, redacting
// sensitive content on read and backing up overwritten files on write.
type FileConnector struct {
	dataRoot  string
	auditRoot string
	redactor  *redaction.Redactor
	log       *logging.Logger
}

// NewFileConnector constructs a connector rooted at dataRoot. auditRoot is
// compared against write targets so writes into the audit directory are
// always rejected.
func NewFileConnector(dataRoot, auditRoot string, redactor *redaction.Redactor, log *logging.Logger) *FileConnector {
	return &FileConnector{dataRoot: dataRoot, auditRoot: auditRoot, redactor: redactor, log: log}
}

func inScope(rel string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

func denied(rel string) bool {
	for _, p := range denyList {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// Read resolves path under the data root, enforces scope and deny-list
// checks, then returns the file's content with secrets redacted. The
// redaction count is always logged.
func (c *FileConnector) Read(ctx context.Context, caller authn.Caller, path string) ([]byte, error) {
	rel := filepath.ToSlash(strings.TrimPrefix(path, "/"))

	if denied(rel) {
		c.logDenied(ctx, caller, rel, "deny_list")
		return nil, svcerrors.Forbidden(fmt.Sprintf("read denied: %s is in the deny list", rel))
	}
	if !inScope(rel, readScopeTable[caller.Tier]) {
		c.logDenied(ctx, caller, rel, "out_of_scope")
		return nil, svcerrors.Forbidden(fmt.Sprintf("read denied: %s is outside tier scope", rel))
	}

	resolved, err := validate.ResolveUnder(c.dataRoot, rel)
	if err != nil {
		c.logDenied(ctx, caller, rel, "traversal")
		return nil, svcerrors.InvalidInput("path", "resolves outside the data root")
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, svcerrors.NotFound("file", rel)
	}

	var redacted string
	var count int
	if c.redactor != nil {
		redacted, count = c.redactor.RedactConnectorContent(string(raw))
	} else {
		redacted = string(raw)
	}

	if c.log != nil {
		c.log.WithContext(ctx).WithField("user_id", caller.UserID).WithField("path", rel).
			WithField("redaction_count", count).Info("connector file read")
	}
	return []byte(redacted), nil
}

// Write resolves path under the data root and writes content, refusing any
// target inside the audit directory and backing up an existing file to a
// timestamped sibling before overwrite.
func (c *FileConnector) Write(ctx context.Context, caller authn.Caller, path string, content []byte) (*WriteRecord, error) {
	rel := filepath.ToSlash(strings.TrimPrefix(path, "/"))

	if strings.HasPrefix(rel, "audit/") {
		c.logDenied(ctx, caller, rel, "audit_write_forbidden")
		return nil, svcerrors.Forbidden("writes into the audit directory are forbidden")
	}
	if !caller.Has(authn.CapWrite) {
		c.logDenied(ctx, caller, rel, "capability_denied")
		return nil, svcerrors.CapabilityDenied("write", string(caller.Tier))
	}

	resolved, err := validate.ResolveUnder(c.dataRoot, rel)
	if err != nil {
		c.logDenied(ctx, caller, rel, "traversal")
		return nil, svcerrors.InvalidInput("path", "resolves outside the data root")
	}
	if c.auditRoot != "" {
		if auditAbs, err := filepath.Abs(c.auditRoot); err == nil &&
			(resolved == auditAbs || strings.HasPrefix(resolved, auditAbs+string(filepath.Separator))) {
			c.logDenied(ctx, caller, rel, "audit_write_forbidden")
			return nil, svcerrors.Forbidden("writes into the audit directory are forbidden")
		}
	}

	var backup string
	if existing, err := os.ReadFile(resolved); err == nil {
		backup = resolved + "." + time.Now().UTC().Format("20060102T150405") + ".bak"
		if err := os.WriteFile(backup, existing, 0o640); err != nil {
			return nil, svcerrors.Internal("backup existing file", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return nil, svcerrors.Internal("create parent directory", err)
	}
	if err := os.WriteFile(resolved, content, 0o640); err != nil {
		return nil, svcerrors.Internal("write file", err)
	}

	sum := sha256.Sum256(content)
	if c.log != nil {
		c.log.WithContext(ctx).WithField("user_id", caller.UserID).WithField("path", rel).Info("connector file write")
	}
	return &WriteRecord{Path: rel, Size: int64(len(content)), SHA256: hex.EncodeToString(sum[:]), Backup: backup}, nil
}

// StagePatch writes content into patches/{id}/{name} alongside a metadata
// file, without touching the live code tree. Promoting a staged patch is an
// operation outside the connector.
func (c *FileConnector) StagePatch(ctx context.Context, caller authn.Caller, patchID, name string, content []byte) (*WriteRecord, error) {
	if !validate.Filename(name) {
		return nil, svcerrors.InvalidInput("name", "must be a bare filename")
	}
	rel := filepath.ToSlash(filepath.Join("patches", patchID, name))
	return c.Write(ctx, caller, rel, content)
}

func (c *FileConnector) logDenied(ctx context.Context, caller authn.Caller, rel, reason string) {
	if c.log == nil {
		return
	}
	c.log.LogSecurityEvent(ctx, "read_denied", map[string]interface{}{
		"user_id": caller.UserID,
		"path":    rel,
		"reason":  reason,
	})
}
