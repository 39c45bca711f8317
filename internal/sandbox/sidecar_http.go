package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kurogate/kuro/infrastructure/httputil"
)

// HTTPSidecar talks to the external code-execution sidecar over HTTP,
// satisfying Sidecar — grounded on the same httputil.NewClientWithBaseURL
// construction internal/orchestrator.BackendClient uses, since both are
// thin JSON clients in front of a process the gateway never executes code
// in directly.
type HTTPSidecar struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPSidecar builds an HTTPSidecar pointed at baseURL.
func NewHTTPSidecar(baseURL string, httpClient *http.Client) (*HTTPSidecar, error) {
	client, normalized, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
	}, httputil.ClientDefaults{
		Timeout:          30 * time.Second,
		MaxBodyBytes:     4 << 20,
		NormalizeBaseURL: true,
	})
	if err != nil {
		return nil, err
	}
	return &HTTPSidecar{httpClient: client, baseURL: normalized}, nil
}

func (s *HTTPSidecar) Start(ctx context.Context, workspaceDir, entrypoint string, budget Budget) (string, error) {
	body, err := json.Marshal(map[string]any{
		"workspaceDir":    workspaceDir,
		"entrypoint":      entrypoint,
		"runtimeSeconds":  budget.RuntimeSeconds,
		"memoryMB":        budget.MemoryMB,
		"outputBytes":     budget.OutputBytes,
		"maxFilesTouched": budget.MaxFilesTouched,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sandbox: sidecar start failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadAllStrict(resp.Body, 1<<20)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("sandbox: sidecar returned %d", resp.StatusCode)
	}
	return gjson.GetBytes(raw, "runId").String(), nil
}

func (s *HTTPSidecar) Poll(ctx context.Context, sidecarRunID string) (SidecarStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/runs/"+sidecarRunID, nil)
	if err != nil {
		return SidecarStatus{}, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SidecarStatus{}, fmt.Errorf("sandbox: sidecar poll failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadAllStrict(resp.Body, 1<<20)
	if err != nil {
		return SidecarStatus{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return SidecarStatus{}, fmt.Errorf("sandbox: sidecar returned %d", resp.StatusCode)
	}

	var logs []string
	for _, line := range gjson.GetBytes(raw, "logs").Array() {
		logs = append(logs, line.String())
	}
	var artifacts []string
	for _, a := range gjson.GetBytes(raw, "artifacts").Array() {
		artifacts = append(artifacts, a.String())
	}

	return SidecarStatus{
		Terminal:  gjson.GetBytes(raw, "terminal").Bool(),
		Status:    Status(gjson.GetBytes(raw, "status").String()),
		ExitCode:  int(gjson.GetBytes(raw, "exitCode").Int()),
		Logs:      logs,
		Artifacts: artifacts,
	}, nil
}

func (s *HTTPSidecar) Kill(ctx context.Context, sidecarRunID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/runs/"+sidecarRunID, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox: sidecar kill failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sandbox: sidecar returned %d", resp.StatusCode)
	}
	return nil
}
