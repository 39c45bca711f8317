// Package orchestrator wires the pipeline, retrieval, synthesis, and
// frontier packages into the streaming request/response cycle the HTTP
// surface exposes at /api/stream: validate, resolve caller, open an SSE
// response, run the pipeline, stream the backend (or synthesis) reply
// token by token, and record the turn.
package orchestrator

import (
	"sync"
	"time"
)

// StreamHandle tracks one in-flight SSE request, keyed by session id, so a
// concurrent correction or disconnect can find and abort it.
type StreamHandle struct {
	SessionID string
	Abort     chan struct{}
	Partial   []byte

	mu      sync.Mutex
	aborted bool
	correct bool
}

// RequestCorrection marks the handle for a correction-triggered abort,
// observed by the backend-streaming loop between frames.
func (h *StreamHandle) RequestCorrection() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aborted {
		return
	}
	h.correct = true
	h.signalAbort()
}

// PendingCorrection reports whether a correction was requested since the
// handle was registered.
func (h *StreamHandle) PendingCorrection() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.correct
}

// Disconnect marks the handle aborted without a correction reason, used
// when the client connection closes.
func (h *StreamHandle) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signalAbort()
}

func (h *StreamHandle) signalAbort() {
	if h.aborted {
		return
	}
	h.aborted = true
	close(h.Abort)
}

// AppendPartial accumulates backend tokens as they arrive so a mid-stream
// abort still has the text produced so far.
func (h *StreamHandle) AppendPartial(chunk string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Partial = append(h.Partial, chunk...)
}

// Text returns the partial buffer accumulated so far.
func (h *StreamHandle) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.Partial)
}

// Registry tracks one StreamHandle per active session.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*StreamHandle
}

// NewRegistry builds an empty stream handle registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*StreamHandle)}
}

// Register creates and stores a handle for sessionID, replacing any prior
// handle for the same session (a new request supersedes an old one).
func (r *Registry) Register(sessionID string) *StreamHandle {
	h := &StreamHandle{SessionID: sessionID, Abort: make(chan struct{})}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.handles[sessionID]; ok {
		prev.Disconnect()
	}
	r.handles[sessionID] = h
	return h
}

// Deregister removes sessionID's handle if it is still the one passed in
// (a stale deregister from a superseded request is a no-op).
func (r *Registry) Deregister(sessionID string, h *StreamHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[sessionID]; ok && cur == h {
		delete(r.handles, sessionID)
	}
}

// RequestCorrection finds sessionID's active handle, if any, and marks it
// for correction-abort.
func (r *Registry) RequestCorrection(sessionID string) bool {
	r.mu.Lock()
	h, ok := r.handles[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.RequestCorrection()
	return true
}

// keepaliveInterval is how often a comment-line keepalive is written to
// hold the SSE connection open through idle periods.
const keepaliveInterval = 15 * time.Second
