package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRegisterReturnsIndependentHandles(t *testing.T) {
	reg := NewRegistry()
	h1 := reg.Register("session-a")
	h2 := reg.Register("session-b")

	assert.Equal(t, "session-a", h1.SessionID)
	assert.Equal(t, "session-b", h2.SessionID)
	assert.False(t, h1.PendingCorrection())
}

func TestRegistryRegisterSupersedesPriorHandle(t *testing.T) {
	reg := NewRegistry()
	first := reg.Register("session-a")
	second := reg.Register("session-a")

	assert.NotSame(t, first, second)
	select {
	case <-first.Abort:
	default:
		t.Fatal("expected prior handle to be disconnected when superseded")
	}

	select {
	case <-second.Abort:
		t.Fatal("new handle should not be aborted")
	default:
	}
}

func TestRegistryDeregisterIsNoOpForStaleHandle(t *testing.T) {
	reg := NewRegistry()
	stale := reg.Register("session-a")
	current := reg.Register("session-a")

	reg.Deregister("session-a", stale)

	reg.mu.Lock()
	_, stillPresent := reg.handles["session-a"]
	reg.mu.Unlock()
	assert.True(t, stillPresent)

	reg.Deregister("session-a", current)
	reg.mu.Lock()
	_, presentAfter := reg.handles["session-a"]
	reg.mu.Unlock()
	assert.False(t, presentAfter)
}

func TestRegistryRequestCorrectionSignalsRegisteredHandle(t *testing.T) {
	reg := NewRegistry()
	h := reg.Register("session-a")

	found := reg.RequestCorrection("session-a")
	assert.True(t, found)
	assert.True(t, h.PendingCorrection())

	select {
	case <-h.Abort:
	default:
		t.Fatal("expected abort channel to be closed")
	}
}

func TestRegistryRequestCorrectionReturnsFalseForUnknownSession(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.RequestCorrection("missing"))
}

func TestStreamHandleAppendPartialAccumulates(t *testing.T) {
	h := &StreamHandle{SessionID: "s", Abort: make(chan struct{})}
	h.AppendPartial("hello ")
	h.AppendPartial("world")
	assert.Equal(t, "hello world", h.Text())
}

func TestStreamHandleDisconnectIsIdempotent(t *testing.T) {
	h := &StreamHandle{SessionID: "s", Abort: make(chan struct{})}
	h.Disconnect()
	assert.NotPanics(t, func() { h.Disconnect() })
	assert.NotPanics(t, func() { h.RequestCorrection() })
}
