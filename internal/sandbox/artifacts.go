package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kurogate/kuro/internal/validate"
)

// artifactMIMEAllowlist maps a file extension to the exact Content-Type
// served for it. Anything not listed is refused rather than guessed —
// the point of the allowlist is that the sandbox never lets an artifact's
// own bytes decide how a browser renders it.
var artifactMIMEAllowlist = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".log":  "text/plain; charset=utf-8",
	".json": "application/json",
	".csv":  "text/csv",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".md":   "text/markdown; charset=utf-8",
}

// artifactSecurityHeaders are the response headers set on every artifact
// fetch, per the strict-MIME/no-framing/no-store contract: nosniff, a
// DENY frame policy, a restrictive CSP that also sandboxes any HTML the
// allowlist happens to include, and no-store caching so a stale artifact
// is never served from a shared cache.
var artifactSecurityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; sandbox; style-src 'unsafe-inline'",
	"Cache-Control":           "no-store",
}

// ArtifactServer serves run artifacts with a strict MIME allowlist.
type ArtifactServer struct {
	runsRoot string
	runner   *Runner
}

// NewArtifactServer builds an ArtifactServer rooted at runsRoot (typically
// "sandboxes/.../runs"), serving terminal-state artifacts from runner.
func NewArtifactServer(runsRoot string, runner *Runner) *ArtifactServer {
	return &ArtifactServer{runsRoot: runsRoot, runner: runner}
}

// ErrArtifactNotAllowed is returned for an artifact extension outside the
// allowlist.
var ErrArtifactNotAllowed = fmt.Errorf("sandbox: artifact type not allowed")

// Serve writes the requested artifact file to w, or an error if the path
// escapes the run's artifact root, the run isn't in a terminal state, or
// the artifact's extension isn't on the MIME allowlist.
func (a *ArtifactServer) Serve(ctx context.Context, w http.ResponseWriter, userID, runID, relPath string) error {
	run, err := a.runner.Get(ctx, userID, runID)
	if err != nil {
		return err
	}
	if !run.Status.terminal() {
		return fmt.Errorf("sandbox: run %q not finished", runID)
	}

	ext := strings.ToLower(filepath.Ext(relPath))
	contentType, ok := artifactMIMEAllowlist[ext]
	if !ok {
		return ErrArtifactNotAllowed
	}

	runDir := filepath.Join(a.runsRoot, runID, "artifacts")
	resolved, err := validate.ResolveUnder(runDir, relPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("sandbox: read artifact: %w", err)
	}

	for key, value := range artifactSecurityHeaders {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)
	return err
}
