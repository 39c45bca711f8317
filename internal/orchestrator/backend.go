package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/infrastructure/resilience"
	"github.com/kurogate/kuro/pkg/version"
)

// ChatOptions carries the per-request model parameters threaded down from
// the pipeline's agent/prompt stages to the backend call.
type ChatOptions struct {
	Model       string
	Temperature float64
}

// Frame is one parsed line of the backend's streamed JSON response.
type Frame struct {
	Token string
	Done  bool
}

// BackendClient talks to the local LLM inference backend's chat endpoint,
// both in streaming mode (for the orchestrator's token loop) and in a
// single-shot mode (satisfying synthesis.Generator for the generate/judge/
// merge calls) — grounded on the same infrastructure/httputil service-
// client construction internal/retrieval.EmbeddingClient uses.
type BackendClient struct {
	httpClient *http.Client
	baseURL    string
	breaker    *resilience.CircuitBreaker
}

// NewBackendClient builds a BackendClient, wrapping every call in a
// circuit breaker so repeated backend failures are tracked and short-
// circuited without the orchestrator reimplementing that bookkeeping.
func NewBackendClient(baseURL string, httpClient *http.Client) (*BackendClient, error) {
	client, normalized, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
	}, httputil.ClientDefaults{
		Timeout:          120 * time.Second,
		MaxBodyBytes:     16 << 20,
		NormalizeBaseURL: true,
	})
	if err != nil {
		return nil, err
	}
	return &BackendClient{
		httpClient: client,
		baseURL:    normalized,
		breaker: resilience.New(resilience.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 2,
		}),
	}, nil
}

// Unhealthy reports whether the circuit breaker has tripped open,
// letting a caller short-circuit with a friendly error before ever
// attempting a request.
func (b *BackendClient) Unhealthy() bool {
	return b.breaker.State() == resilience.StateOpen
}

// Stream opens a streaming chat completion call and invokes onChunk for
// each parsed JSON frame in order as it arrives; it must not buffer the
// full response. The callback's context cancellation (via ctx) aborts the
// backend request.
func (b *BackendClient) Stream(ctx context.Context, systemPrompt, userPrompt string, opts ChatOptions, onChunk func(Frame) error) error {
	// A mid-stream correction abort is caller-initiated, not a backend
	// fault, so it must not trip the circuit breaker: callerAbort captures
	// that case separately from the breaker's own success/failure view.
	var callerAbort error

	breakerErr := b.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(map[string]any{
			"system":      systemPrompt,
			"prompt":      userPrompt,
			"model":       opts.Model,
			"temperature": opts.Temperature,
			"stream":      true,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("orchestrator: backend stream call failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("orchestrator: backend returned %d", resp.StatusCode)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			token := gjson.GetBytes(line, "token").String()
			done := gjson.GetBytes(line, "done").Bool()
			if err := onChunk(Frame{Token: token, Done: done}); err != nil {
				if errors.Is(err, context.Canceled) {
					callerAbort = err
					return nil
				}
				return err
			}
			if done {
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				callerAbort = ctx.Err()
				return nil
			}
			return err
		}
		return nil
	})

	if callerAbort != nil {
		return callerAbort
	}
	return breakerErr
}

// Generate performs a single non-streaming completion, satisfying
// synthesis.Generator for the generate/judge/merge calls.
func (b *BackendClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out string
	err := b.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(map[string]any{
			"system": systemPrompt,
			"prompt": userPrompt,
			"stream": false,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("orchestrator: backend generate call failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := httputil.ReadAllStrict(resp.Body, 16<<20)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("orchestrator: backend returned %d", resp.StatusCode)
		}
		out = gjson.GetBytes(raw, "token").String()
		return nil
	})
	return out, err
}
