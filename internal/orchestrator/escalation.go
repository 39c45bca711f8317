package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kurogate/kuro/infrastructure/httputil"
	"github.com/kurogate/kuro/infrastructure/resilience"
	"github.com/kurogate/kuro/pkg/version"
)

// EscalationClient streams from an external, OpenAI-compatible chat-
// completions endpoint: a separate streaming adapter that mimics the
// orchestrator's own SSE contract but pulls tokens from the external
// provider's event format.
type EscalationClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *resilience.CircuitBreaker
	Provider   string
	Model      string
}

// NewEscalationClient builds an EscalationClient for provider/model, talking
// to baseURL with apiKey as a bearer token.
func NewEscalationClient(baseURL, apiKey, provider, model string, httpClient *http.Client) (*EscalationClient, error) {
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
	return &EscalationClient{
		httpClient: client,
		baseURL:    normalized,
		apiKey:     apiKey,
		Provider:   provider,
		Model:      model,
		breaker: resilience.New(resilience.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 2,
		}),
	}, nil
}

// Unhealthy reports whether the circuit breaker protecting this provider
// has tripped open.
func (e *EscalationClient) Unhealthy() bool {
	return e.breaker.State() == resilience.StateOpen
}

// Stream opens a streaming chat-completions call against the external
// provider and invokes onChunk for each token delta as it arrives. The
// provider's wire format is the common "data: {json}\n\n" SSE framing with
// a terminal "data: [DONE]\n\n" line, and each frame's token lives at
// choices.0.delta.content.
func (e *EscalationClient) Stream(ctx context.Context, systemPrompt, userPrompt string, opts ChatOptions, onChunk func(Frame) error) error {
	var callerAbort error

	breakerErr := e.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(map[string]any{
			"model": e.Model,
			"messages": []map[string]string{
				{"role": "system", "content": systemPrompt},
				{"role": "user", "content": userPrompt},
			},
			"temperature": opts.Temperature,
			"stream":      true,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("orchestrator: escalation call to %s failed: %w", e.Provider, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("orchestrator: %s returned %d", e.Provider, resp.StatusCode)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return nil
			}

			token := gjson.Get(payload, "choices.0.delta.content").String()
			finished := gjson.Get(payload, "choices.0.finish_reason").Exists() &&
				gjson.Get(payload, "choices.0.finish_reason").String() != ""
			if err := onChunk(Frame{Token: token, Done: finished}); err != nil {
				if errors.Is(err, context.Canceled) {
					callerAbort = err
					return nil
				}
				return err
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
