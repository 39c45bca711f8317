package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/infrastructure/state"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/pipeline"
	"github.com/kurogate/kuro/internal/quota"
)

// stubStage is a single-stage pipeline used across these tests: it sets the
// fields the orchestrator reads (Agent, SystemPrompt) and otherwise leaves
// the request untouched.
type stubStage struct {
	block bool
}

func (s *stubStage) Name() string { return "stub" }
func (s *stubStage) Run(ctx context.Context, req *pipeline.Request) (pipeline.Decision, error) {
	if s.block {
		return pipeline.Decision{Blocked: true, Reason: "blocked_for_test"}, nil
	}
	req.Agent = "local-default"
	req.SystemPrompt = "you are a helpful assistant"
	return pipeline.Decision{Blocked: false}, nil
}

func newTestOrchestrator(t *testing.T, backendURL string, pl *pipeline.Pipeline) *Orchestrator {
	t.Helper()

	resolver := authn.NewResolver(authn.NewSessionStore(nil, time.Hour, time.Hour, "test-secret"), authn.NewLegacyVerifier(nil, false), nil)
	backend, err := NewBackendClient(backendURL, nil)
	require.NoError(t, err)

	return New(Config{
		Resolver: resolver,
		Guests:   quota.NewGuestGate(),
		Quota:    quota.NewGate(nil, nil),
		Pipeline: pl,
		Backend:  backend,
		History:  NewHistoryStore(state.NewMemoryBackend(0)),
		Log:      logging.New("test", "error", "json"),
	})
}

func newStreamRequest(t *testing.T, sessionID string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"messages":  []map[string]string{{"role": "user", "content": "hello there"}},
		"sessionId": sessionID,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/stream", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeSSEEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" || !strings.HasPrefix(frame, "data: ") {
			continue
		}
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &decoded))
		events = append(events, decoded)
	}
	return events
}

func TestHandleStreamHappyPathEmitsTokensAndDone(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"token":"hi ","done":false}`)
		fmt.Fprintln(w, `{"token":"there","done":true}`)
	}))
	defer backendSrv.Close()

	orch := newTestOrchestrator(t, backendSrv.URL, pipeline.New(&stubStage{}))

	rec := httptest.NewRecorder()
	orch.HandleStream(rec, newStreamRequest(t, "session-1"))

	events := decodeSSEEvents(t, rec.Body.String())
	require.NotEmpty(t, events)

	var sawDone bool
	var tokenTexts []string
	for _, ev := range events {
		switch ev["event"] {
		case "done":
			sawDone = true
			assert.EqualValues(t, 2, ev["tokenCount"])
		case "token":
			tokenTexts = append(tokenTexts, ev["text"].(string))
		case "error":
			t.Fatalf("unexpected error event: %v", ev)
		}
	}
	assert.True(t, sawDone)
	assert.Equal(t, []string{"hi ", "there"}, tokenTexts)

	turns, err := orch.history.Recent(context.Background(), "session-1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"user: hello there", "assistant: hi there"}, turns)
}

func TestHandleStreamBlockedPipelineStageEmitsBlockedEvent(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called when the pipeline blocks")
	}))
	defer backendSrv.Close()

	orch := newTestOrchestrator(t, backendSrv.URL, pipeline.New(&stubStage{block: true}))

	rec := httptest.NewRecorder()
	orch.HandleStream(rec, newStreamRequest(t, "session-2"))

	events := decodeSSEEvents(t, rec.Body.String())
	// guest_quota, layer active, layer blocked, then the blocked event.
	require.Len(t, events, 4)
	assert.Equal(t, "blocked", events[3]["event"])
	assert.Equal(t, "blocked_for_test", events[3]["reason"])
}

func TestHandleStreamBackendErrorEmitsErrorEvent(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backendSrv.Close()

	orch := newTestOrchestrator(t, backendSrv.URL, pipeline.New(&stubStage{}))

	rec := httptest.NewRecorder()
	orch.HandleStream(rec, newStreamRequest(t, "session-3"))

	events := decodeSSEEvents(t, rec.Body.String())
	var sawError bool
	for _, ev := range events {
		if ev["event"] == "error" {
			sawError = true
		}
		if ev["event"] == "done" {
			t.Fatal("done event must not be emitted after a backend error")
		}
	}
	assert.True(t, sawError)
}

func TestHandleStreamValidationFailureReturnsBadRequestWithoutSSE(t *testing.T) {
	orch := newTestOrchestrator(t, "http://127.0.0.1:0", pipeline.New(&stubStage{}))

	body, _ := json.Marshal(map[string]any{"messages": []map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/api/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	orch.HandleStream(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
