package orchestrator

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames every event as `data: {json}\n\n` per the SSE contract,
// flushing after each write so the client sees tokens as they arrive
// rather than buffered behind a proxy.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the streaming response headers and disables proxy
// buffering, returning a writer ready for event frames.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disables nginx response buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// Event writes one named SSE event as a JSON data line. The event name
// itself travels inside the JSON payload (an `event` field) rather than as
// a separate SSE `event:` line, matching the flat event-envelope every
// client-side handler already expects.
func (s *sseWriter) Event(event string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["event"] = event
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Keepalive writes a comment-line keepalive, ignored by SSE clients but
// enough to keep intermediating proxies from timing out an idle response.
func (s *sseWriter) Keepalive() error {
	if _, err := fmt.Fprint(s.w, ":ka\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
