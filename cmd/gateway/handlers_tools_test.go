package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurogate/kuro/infrastructure/redaction"
	"github.com/kurogate/kuro/infrastructure/security"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/connector"
)

func testCaller(tier authn.Tier) authn.Caller {
	return authn.Caller{
		UserID:       "user-1",
		Tier:         tier,
		Role:         authn.RoleOperator,
		Capabilities: map[authn.Capability]bool{authn.CapRead: true, authn.CapWrite: true},
		AuthMethod:   authn.AuthMethodSession,
	}
}

func TestDispatchToolUnknownNameFails(t *testing.T) {
	d := &deps{}
	call := toolCall{ID: "abc", Name: "unknown.tool", Args: json.RawMessage(`{}`)}

	result := dispatchTool(context.Background(), d, testCaller(authn.TierPro), call)

	assert.Equal(t, "abc", result.ID)
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "unknown tool")
}

func TestDispatchToolFileReadRoundTrips(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "public"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "public", "notes.txt"), []byte("hello world"), 0o640))

	redactor := redaction.NewRedactor(redaction.DefaultConfig())
	fc := connector.NewFileConnector(dataDir, filepath.Join(dataDir, "audit"), redactor, nil)
	d := &deps{FileConnector: fc}

	args, err := json.Marshal(map[string]string{"path": "public/notes.txt"})
	require.NoError(t, err)
	call := toolCall{ID: "r1", Name: "file.read", Args: args}

	result := dispatchTool(context.Background(), d, testCaller(authn.TierPro), call)

	require.True(t, result.OK)
	raw, ok := result.Result.(json.RawMessage)
	require.True(t, ok)
	var decoded struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "hello world", decoded.Content)
}

func TestDispatchToolFileReadOutOfScopeDenied(t *testing.T) {
	dataDir := t.TempDir()
	redactor := redaction.NewRedactor(redaction.DefaultConfig())
	fc := connector.NewFileConnector(dataDir, filepath.Join(dataDir, "audit"), redactor, nil)
	d := &deps{FileConnector: fc}

	args, err := json.Marshal(map[string]string{"path": "secrets/keys.txt"})
	require.NoError(t, err)
	call := toolCall{ID: "r2", Name: "file.read", Args: args}

	result := dispatchTool(context.Background(), d, testCaller(authn.TierFree), call)

	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
}

func TestDispatchToolInvalidArgsFails(t *testing.T) {
	d := &deps{}
	call := toolCall{ID: "r3", Name: "file.read", Args: json.RawMessage(`not-json`)}

	result := dispatchTool(context.Background(), d, testCaller(authn.TierPro), call)

	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "invalid args")
}

func TestToolSuccessFlagsTruncationOverByteCeiling(t *testing.T) {
	big := make([]byte, toolResultMaxBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	result := toolSuccess(toolCall{ID: "t1", Name: "file.read"}, map[string]any{"content": string(big)})

	assert.True(t, result.OK)
	assert.True(t, result.Truncated)
}

func TestToolSuccessNotTruncatedUnderCeiling(t *testing.T) {
	result := toolSuccess(toolCall{ID: "t2", Name: "file.read"}, map[string]any{"content": "short"})

	assert.True(t, result.OK)
	assert.False(t, result.Truncated)
}

func TestHandleToolsInvokeRejectsReplayedCallID(t *testing.T) {
	d := &deps{ToolReplay: security.NewReplayProtection(time.Minute, nil)}
	handler := handleToolsInvoke(d)

	body, err := json.Marshal(toolCallEnvelope{ToolCall: toolCall{ID: "dup-1", Name: "unknown.tool"}})
	require.NoError(t, err)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tools/invoke", bytes.NewReader(body))
		req = req.WithContext(withCaller(req.Context(), testCaller(authn.TierPro)))
		w := httptest.NewRecorder()
		handler(w, req)
		return w
	}

	first := do()
	require.Equal(t, http.StatusOK, first.Code)
	var firstEnvelope toolResultEnvelope
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstEnvelope))
	assert.False(t, firstEnvelope.ToolResult.OK)
	assert.Contains(t, firstEnvelope.ToolResult.Error, "unknown tool")

	second := do()
	require.Equal(t, http.StatusOK, second.Code)
	var secondEnvelope toolResultEnvelope
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondEnvelope))
	assert.False(t, secondEnvelope.ToolResult.OK)
	assert.Contains(t, secondEnvelope.ToolResult.Error, "duplicate tool call id")
}
