package orchestrator

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSSEWriterSetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, ok := newSSEWriter(rec)
	require.True(t, ok)
	require.NotNil(t, sse)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, 200, rec.Code)
}

func TestSSEWriterEventFramesDataLineWithEventField(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, _ := newSSEWriter(rec)

	err := sse.Event("token", map[string]any{"text": "hi"})
	require.NoError(t, err)

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "))
	require.True(t, strings.HasSuffix(body, "\n\n"))

	raw := strings.TrimSuffix(strings.TrimPrefix(body, "data: "), "\n\n")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "token", decoded["event"])
	assert.Equal(t, "hi", decoded["text"])
}

func TestSSEWriterEventHandlesNilPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, _ := newSSEWriter(rec)

	require.NoError(t, sse.Event("blocked", nil))

	raw := strings.TrimSuffix(strings.TrimPrefix(rec.Body.String(), "data: "), "\n\n")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "blocked", decoded["event"])
}

func TestSSEWriterKeepaliveWritesCommentLine(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, _ := newSSEWriter(rec)

	require.NoError(t, sse.Keepalive())
	assert.Equal(t, ":ka\n\n", rec.Body.String())
}
