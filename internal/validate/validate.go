// Package validate centralizes the gateway's request-body schema checks and
// path/name/id sanitizers. It is the single path-validator used by uploads,
// sandbox writes, artifact serving, connector reads, and session files — no
// handler should roll its own string-based path check.
package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	userIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	workspaceIDPat   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	runIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	filenamePattern  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,255}$`)
	messageRolePat   = regexp.MustCompile(`^(user|assistant|system)$`)
)

// ErrTraversal is returned whenever a resolved path escapes its allowed root.
type ErrTraversal struct {
	Root string
	Path string
}

func (e *ErrTraversal) Error() string {
	return fmt.Sprintf("path %q escapes root %q", e.Path, e.Root)
}

// ResolveUnder resolves `name` (a caller-supplied relative path or filename)
// against `root` and returns the absolute path, refusing to return anything
// outside root — the single centralized path-safety check used by uploads,
// sandbox file writes, sandbox artifact serving, connector reads, and
// session files.
func ResolveUnder(root, name string) (string, error) {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(cleanRoot, name)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if resolved != cleanRoot && !strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return "", &ErrTraversal{Root: cleanRoot, Path: name}
	}
	return resolved, nil
}

// UserID validates the [A-Za-z0-9_-]{1,64} shape shared by the vector store
// and session layer.
func UserID(id string) bool { return userIDPattern.MatchString(id) }

// WorkspaceID validates a sandbox workspace id.
func WorkspaceID(id string) bool { return workspaceIDPat.MatchString(id) }

// RunID validates a sandbox run id.
func RunID(id string) bool { return runIDPattern.MatchString(id) }

// Filename validates an uploaded or written filename has no path separators
// or unsafe characters.
func Filename(name string) bool {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return false
	}
	return filenamePattern.MatchString(name)
}

// SanitizeFilename strips characters the Filename validator would reject,
// used for the X-Filename upload header so a traversal attempt there
// degrades to a safe name instead of a rejected upload.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		out = "upload"
	}
	if len(out) > 255 {
		out = out[:255]
	}
	return out
}

// Message is one chat turn in a /api/stream request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the body schema for POST /api/stream.
type StreamRequest struct {
	Messages      []Message      `json:"messages"`
	Mode          string         `json:"mode,omitempty"`
	Skill         string         `json:"skill,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	Images        []string       `json:"images,omitempty"`
	Thinking      bool           `json:"thinking,omitempty"`
	Reasoning     bool           `json:"reasoning,omitempty"`
	UseRAG        bool           `json:"useRAG,omitempty"`
	RAGNamespace  string         `json:"ragNamespace,omitempty"`
	RAGTopK       int            `json:"ragTopK,omitempty"`
	FileIDs       []string       `json:"fileIds,omitempty"`
	PowerDial     string         `json:"powerDial,omitempty"`
	Extra         map[string]any `json:"-"`
}

// ValidationError is one field-level failure, returned as part of a 400
// response's errors array.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// StreamRequestSchema validates a decoded StreamRequest, returning the list
// of field errors (empty slice means valid).
func StreamRequestSchema(req *StreamRequest) []ValidationError {
	var errs []ValidationError

	if len(req.Messages) == 0 {
		errs = append(errs, ValidationError{Field: "messages", Reason: "must contain at least one message"})
	}
	for i, m := range req.Messages {
		if !messageRolePat.MatchString(m.Role) {
			errs = append(errs, ValidationError{
				Field:  fmt.Sprintf("messages[%d].role", i),
				Reason: "must be one of user, assistant, system",
			})
		}
		if strings.TrimSpace(m.Content) == "" {
			errs = append(errs, ValidationError{
				Field:  fmt.Sprintf("messages[%d].content", i),
				Reason: "must not be empty",
			})
		}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		errs = append(errs, ValidationError{Field: "temperature", Reason: "must be between 0 and 2"})
	}
	if req.RAGTopK < 0 || req.RAGTopK > 50 {
		errs = append(errs, ValidationError{Field: "ragTopK", Reason: "must be between 0 and 50"})
	}
	if req.RAGNamespace != "" && req.RAGNamespace != "edubba" && req.RAGNamespace != "mnemosyne" {
		errs = append(errs, ValidationError{Field: "ragNamespace", Reason: "must be edubba or mnemosyne"})
	}
	return errs
}
