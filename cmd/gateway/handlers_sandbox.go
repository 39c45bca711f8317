package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/internal/sandbox"
)

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

// handleSandboxCreateWorkspace allocates a new sandbox workspace for the
// caller, subject to the tier's workspace-count ceiling.
func handleSandboxCreateWorkspace(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		var req createWorkspaceRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		ws, err := d.SandboxStore.CreateWorkspace(caller.UserID, caller.Tier, req.Name)
		if err != nil {
			writeSandboxError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ws)
	}
}

type writeFileRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Path        string `json:"path"`
	Content     string `json:"content"`
}

// handleSandboxWriteFile writes a text file into a workspace.
func handleSandboxWriteFile(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		var req writeFileRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.WorkspaceID == "" || req.Path == "" {
			httputil.BadRequest(w, "workspaceId and path are required")
			return
		}
		resolved, err := d.SandboxStore.WriteFile(caller.UserID, caller.Tier, req.WorkspaceID, req.Path, []byte(req.Content))
		if err != nil {
			writeSandboxError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"path": resolved})
	}
}

// handleSandboxUploadFile writes a raw-body file into a workspace, with
// workspace and path carried in query parameters since the body is the
// file content itself.
func handleSandboxUploadFile(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		workspaceID := httputil.QueryString(r, "workspaceId", "")
		relPath := httputil.QueryString(r, "path", "")
		if workspaceID == "" || relPath == "" {
			httputil.BadRequest(w, "workspaceId and path query parameters are required")
			return
		}

		body, err := httputil.ReadAllStrict(r.Body, maxUploadBytes)
		if err != nil {
			httputil.BadRequest(w, "request body too large or unreadable")
			return
		}

		resolved, err := d.SandboxStore.WriteFile(caller.UserID, caller.Tier, workspaceID, relPath, body)
		if err != nil {
			writeSandboxError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"path": resolved})
	}
}

type sandboxRunRequest struct {
	WorkspaceID string         `json:"workspaceId"`
	Entrypoint  string         `json:"entrypoint"`
	Budget      sandbox.Budget `json:"budget"`
}

// handleSandboxRun enqueues a sandboxed execution.
func handleSandboxRun(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		var req sandboxRunRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.WorkspaceID == "" || req.Entrypoint == "" {
			httputil.BadRequest(w, "workspaceId and entrypoint are required")
			return
		}
		run, err := d.SandboxRunner.Enqueue(r.Context(), caller.UserID, caller.Tier, req.WorkspaceID, req.Entrypoint, req.Budget)
		if err != nil {
			if run != nil {
				httputil.WriteJSON(w, http.StatusOK, sandboxRunView(run))
				return
			}
			writeSandboxError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sandboxRunView(run))
	}
}

// handleSandboxRunStatus polls a run's current status.
func handleSandboxRunStatus(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		runID := mux.Vars(r)["runId"]
		run, err := d.SandboxRunner.Get(r.Context(), caller.UserID, runID)
		if err != nil {
			httputil.NotFound(w, "run not found")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sandboxRunView(run))
	}
}

// handleSandboxArtifact streams a single artifact file out of a completed
// run's output directory.
func handleSandboxArtifact(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		vars := mux.Vars(r)
		runID := vars["runId"]
		relPath := vars["path"]
		if err := d.SandboxArtifacts.Serve(r.Context(), w, caller.UserID, runID, relPath); err != nil {
			httputil.NotFound(w, "artifact not found")
			return
		}
	}
}

func sandboxRunView(run *sandbox.Run) map[string]any {
	return map[string]any{
		"runId":      run.RunID,
		"status":     run.Status,
		"exitCode":   run.ExitCode,
		"logs":       run.Logs(),
		"artifacts":  run.Artifacts(),
		"createdAt":  run.CreatedAt,
		"startedAt":  run.StartedAt,
		"finishedAt": run.FinishedAt,
	}
}

// writeSandboxError maps the sandbox package's plain errors to HTTP status
// codes. Store and Runner return fmt.Errorf/custom types rather than
// infrastructure/errors.ServiceError, so the mapping is done by type
// assertion and, for the not-found case, message matching.
func writeSandboxError(w http.ResponseWriter, err error) {
	var quotaErr *sandbox.ErrQuotaExceeded
	switch {
	case errors.As(err, &quotaErr):
		httputil.WriteErrorWithCode(w, http.StatusPaymentRequired, "sandbox_quota_exceeded", err.Error())
	case errors.Is(err, sandbox.ErrSandboxDisabled):
		httputil.Forbidden(w, err.Error())
	case strings.Contains(err.Error(), "not found"):
		httputil.NotFound(w, err.Error())
	default:
		httputil.BadRequest(w, err.Error())
	}
}
