package connector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	svcerrors "github.com/kurogate/kuro/infrastructure/errors"
	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/validate"
)

const (
	shellTimeout     = 30 * time.Second
	maxOutputBytes   = 2 * 1024 * 1024
)

// binarySpec is one allowlisted binary's argument constraints.
type binarySpec struct {
	maxArgs    int
	argDenylist []string
}

// allowlist gives per-binary maxArgs and per-arg denylist substrings.
var allowlist = map[string]binarySpec{
	"ls":     {maxArgs: 4},
	"cat":    {maxArgs: 2},
	"grep":   {maxArgs: 6, argDenylist: []string{"--exec"}},
	"git":    {maxArgs: 8, argDenylist: []string{"push", "--force"}},
	"go":     {maxArgs: 8},
	"python3": {maxArgs: 6},
	"node":   {maxArgs: 6},
}

// globalDenylist forbids shell interpreters, pipes into bash,
// privilege-escalation, destructive patterns, and network scanners,
// regardless of which binary is invoked.
var globalDenylist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(bash|sh|zsh|ksh)\s*-c\b`),
	regexp.MustCompile(`\|\s*(bash|sh|zsh)\b`),
	regexp.MustCompile(`(?i)\bsudo\b`),
	regexp.MustCompile(`(?i)\bchmod\s+\+s\b`),
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)\b(nmap|masscan|zmap)\b`),
	regexp.MustCompile(`(?i):\(\)\s*\{.*\};`),
}

// ExecResult is the outcome of a shell invocation.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	StdoutHash string
	StderrHash string
	TimedOut   bool
}

// ShellConnector runs allowlisted binaries in a bounded working directory.
type ShellConnector struct {
	dataRoot string
	codeRoot string
	log      *logging.Logger
}

// NewShellConnector constructs a connector that requires the working
// directory to resolve inside dataRoot or codeRoot.
func NewShellConnector(dataRoot, codeRoot string, log *logging.Logger) *ShellConnector {
	return &ShellConnector{dataRoot: dataRoot, codeRoot: codeRoot, log: log}
}

// Exec validates binary and args against the global denylist and the
// allowlist, resolves workdir inside the data or code root, and runs the
// command with a 30s timeout and a 2MiB cap per output stream.
func (c *ShellConnector) Exec(ctx context.Context, caller authn.Caller, workdir string, binary string, args []string) (*ExecResult, error) {
	if !caller.Has(authn.CapExec) {
		return nil, svcerrors.CapabilityDenied("exec", string(caller.Tier))
	}

	full := binary + " " + strings.Join(args, " ")
	for _, pattern := range globalDenylist {
		if pattern.MatchString(full) {
			return nil, svcerrors.SandboxDenied("command matches the global denylist")
		}
	}

	spec, ok := allowlist[binary]
	if !ok {
		return nil, svcerrors.SandboxDenied(fmt.Sprintf("binary %q is not allowlisted", binary))
	}
	if len(args) > spec.maxArgs {
		return nil, svcerrors.SandboxDenied(fmt.Sprintf("too many arguments for %q", binary))
	}
	for _, a := range args {
		for _, bad := range spec.argDenylist {
			if strings.Contains(a, bad) {
				return nil, svcerrors.SandboxDenied(fmt.Sprintf("argument %q is denylisted for %q", a, binary))
			}
		}
	}

	resolvedDir, err := c.resolveWorkdir(workdir)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, binary, args...)
	cmd.Dir = resolvedDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &capWriter{buf: &stdout, limit: maxOutputBytes}
	cmd.Stderr = &capWriter{buf: &stderr, limit: maxOutputBytes}

	runErr := cmd.Run()
	timedOut := execCtx.Err() == context.DeadlineExceeded

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return nil, svcerrors.Internal("execute command", runErr)
		}
	}

	stdoutHash := sha256.Sum256(stdout.Bytes())
	stderrHash := sha256.Sum256(stderr.Bytes())

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		StdoutHash: hex.EncodeToString(stdoutHash[:]),
		StderrHash: hex.EncodeToString(stderrHash[:]),
		TimedOut:   timedOut,
	}

	if c.log != nil {
		c.log.WithContext(ctx).WithField("user_id", caller.UserID).WithField("binary", binary).
			WithField("stdout_hash", result.StdoutHash).WithField("exit_code", exitCode).
			Info("connector shell exec")
	}
	if timedOut {
		return result, svcerrors.SandboxTimeout(binary)
	}
	return result, nil
}

func (c *ShellConnector) resolveWorkdir(workdir string) (string, error) {
	if resolved, err := validate.ResolveUnder(c.dataRoot, workdir); err == nil {
		return resolved, nil
	}
	resolved, err := validate.ResolveUnder(c.codeRoot, workdir)
	if err != nil {
		return "", svcerrors.InvalidInput("workdir", "must resolve inside the data or code root")
	}
	return resolved, nil
}

// capWriter truncates writes once limit bytes have been buffered, so a
// runaway process cannot exhaust memory via its output streams.
type capWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *capWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}
