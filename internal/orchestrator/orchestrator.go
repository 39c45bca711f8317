package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kurogate/kuro/infrastructure/logging"
	"github.com/kurogate/kuro/internal/audit"
	"github.com/kurogate/kuro/internal/authn"
	"github.com/kurogate/kuro/internal/pipeline"
	"github.com/kurogate/kuro/internal/quota"
	"github.com/kurogate/kuro/internal/retrieval"
	"github.com/kurogate/kuro/internal/synthesis"
	"github.com/kurogate/kuro/internal/validate"
)

// synthesisGate decides, per request, whether the optional synthesis layer
// should run: caller tier plus a per-request toggle.
type synthesisGate interface {
	Enabled(caller authn.Caller, requested bool) bool
}

// defaultSynthesisGate only allows synthesis for sovereign callers who also
// explicitly asked for it.
type defaultSynthesisGate struct{}

func (defaultSynthesisGate) Enabled(caller authn.Caller, requested bool) bool {
	return requested && caller.Tier == authn.TierSovereign
}

// Orchestrator drives the full /api/stream request lifecycle: validation,
// auth/guest gating, the pipeline, optional synthesis, backend token
// streaming, and the always-run cleanup/audit tail.
type Orchestrator struct {
	resolver   *authn.Resolver
	guests     *quota.GuestGate
	quota      *quota.Gate
	pipeline   *pipeline.Pipeline
	backend    *BackendClient
	escalation *EscalationClient
	history    *HistoryStore
	traces     *retrieval.Layer
	auditLog   *audit.Chain
	registry   *Registry
	synthGate  synthesisGate
	log        *logging.Logger
}

// Config collects every collaborator Orchestrator needs. Escalation,
// History, Traces and Audit may be nil; the step that uses each is then
// skipped (response-trace embedding is best-effort in any case).
type Config struct {
	Resolver   *authn.Resolver
	Guests     *quota.GuestGate
	Quota      *quota.Gate
	Pipeline   *pipeline.Pipeline
	Backend    *BackendClient
	Escalation *EscalationClient
	History    *HistoryStore
	Traces     *retrieval.Layer
	Audit      *audit.Chain
	Log        *logging.Logger
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		resolver:   cfg.Resolver,
		guests:     cfg.Guests,
		quota:      cfg.Quota,
		pipeline:   cfg.Pipeline,
		backend:    cfg.Backend,
		escalation: cfg.Escalation,
		history:    cfg.History,
		traces:     cfg.Traces,
		auditLog:   cfg.Audit,
		registry:   NewRegistry(),
		synthGate:  defaultSynthesisGate{},
		log:        cfg.Log,
	}
}

// HandleStream implements step 1-11 of the streaming contract for
// POST /api/stream.
func (o *Orchestrator) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. Validate request body.
	var body validate.StreamRequest
	if !decodeStreamRequest(w, r, &body) {
		return
	}
	if errs := validate.StreamRequestSchema(&body); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	// 2. Resolve caller.
	caller, _, err := o.resolver.Resolve(ctx, r)
	if err != nil {
		writeInternalError(w)
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeInternalError(w)
		return
	}

	var fingerprint string
	if caller.IsGuest {
		fingerprint = quota.Fingerprint(clientIP(r), r.UserAgent(), r.Header.Get("Accept-Language"))
		gate := o.guests.Check(fingerprint)
		_ = sse.Event("guest_quota", map[string]any{"used": gate.Used, "limit": gate.Limit, "remaining": gate.Remaining})
		if !gate.Allowed {
			_ = sse.Event("gate", map[string]any{"reason": "demo_limit", "resetIn": gate.ResetIn.Seconds()})
			return
		}
	}

	// 3-4. Register the stream handle; keepalive ticks in the background.
	handle := o.registry.Register(sessionID)
	defer o.registry.Deregister(sessionID, handle)

	keepaliveDone := make(chan struct{})
	go o.runKeepalive(sse, handle.Abort, keepaliveDone)
	defer close(keepaliveDone)

	req := &pipeline.Request{
		Caller:       caller,
		SessionID:    sessionID,
		Messages:     messageContents(body.Messages),
		Mode:         body.Mode,
		Skill:        body.Skill,
		PowerDial:    body.PowerDial,
		RAGNamespace: body.RAGNamespace,
		RAGTopK:      body.RAGTopK,
		UseRAG:       body.UseRAG,
	}

	// 5. Pipeline stages.
	result, err := o.pipeline.Run(ctx, req, func(ev pipeline.LayerEvent) {
		_ = sse.Event("layer", map[string]any{"stage": ev.Stage, "status": ev.Status, "reason": ev.Reason, "meta": ev.Meta})
	})
	if err != nil {
		o.recordAuditFailure(caller, sessionID, "stream_error", err)
		_ = sse.Event("error", map[string]any{"message": "internal pipeline failure"})
		return
	}
	if result.Blocked {
		_ = sse.Event("blocked", map[string]any{"stage": result.Stage, "reason": result.Reason})
		return
	}

	// 6. Synthesis or direct streaming.
	var (
		assistantText string
		tokenCount    int
		synthResult   synthesis.Result
		usedSynthesis bool
	)

	if o.synthGate.Enabled(caller, body.Reasoning) && o.backend != nil {
		gen := synthesis.New(o.backend, synthesis.Config{})
		res, err := gen.Run(ctx, req.SystemPrompt, lastMessage(req.Messages))
		if err == nil {
			usedSynthesis = true
			synthResult = res
			assistantText = res.Text
			tokenCount = streamSynthesized(sse, handle, res.Text)
		}
	}

	if !usedSynthesis {
		var streamErr error
		if req.RouteExternal && o.escalation != nil {
			_ = sse.Event("escalated", map[string]any{"provider": o.escalation.Provider, "model": o.escalation.Model})
			assistantText, tokenCount, streamErr = o.streamWith(ctx, sse, handle, req, o.escalation.Stream)
		} else {
			assistantText, tokenCount, streamErr = o.streamWith(ctx, sse, handle, req, o.backend.Stream)
		}
		if streamErr != nil {
			if errors.Is(streamErr, context.Canceled) {
				// Already reported via the aborted_for_correction event.
				return
			}
			o.recordAuditFailure(caller, sessionID, "stream_error", streamErr)
			_ = sse.Event("error", map[string]any{"message": "backend error"})
			return
		}
	}

	// 9. Done event, history write, optional trace embedding.
	_ = sse.Event("done", map[string]any{
		"tokenCount":     tokenCount,
		"model":          req.Agent,
		"requestId":      sessionID,
		"fellBack":       synthResult.FellBack,
		"fallbackReason": synthResult.FallbackReason,
	})

	userTurn := Turn{Role: "user", Content: lastMessage(req.Messages)}
	assistantTurn := Turn{Role: "assistant", Content: assistantText}
	if o.history != nil {
		_ = o.history.Append(ctx, sessionID, userTurn, assistantTurn)
	}

	if o.traces != nil && assistantText != "" {
		_ = o.traces.Ingest(ctx, caller.UserID, "mnemosyne", []string{assistantText}, map[string]any{"sessionId": sessionID})
	}

	if caller.IsGuest && assistantText != "" {
		o.guests.Consume(fingerprint)
	}
	if !caller.IsGuest && assistantText != "" {
		o.quota.RecordUsage(caller.UserID, caller.Tier, quota.ActionChat)
	}

	if o.auditLog != nil {
		_, _ = o.auditLog.Append(caller.UserID, string(caller.Role), "stream_complete", sessionID, map[string]any{
			"intent": req.Intent, "agent": req.Agent, "tokenCount": tokenCount,
		})
	}
}

func (o *Orchestrator) recordAuditFailure(caller authn.Caller, sessionID, action string, err error) {
	if o.auditLog == nil {
		return
	}
	_, _ = o.auditLog.Append(caller.UserID, string(caller.Role), action, sessionID, map[string]any{"error": err.Error()})
}

// streamFunc is the shape shared by BackendClient.Stream and
// EscalationClient.Stream, letting streamWith drive either one identically.
type streamFunc func(ctx context.Context, systemPrompt, userPrompt string, opts ChatOptions, onChunk func(Frame) error) error

// streamWith drives a local or escalated streaming call, splitting each
// frame's token through the thinking extractor and re-emitting
// `token`/`thinking` SSE events as they arrive, aborting on a mid-stream
// correction request.
func (o *Orchestrator) streamWith(ctx context.Context, sse *sseWriter, handle *StreamHandle, req *pipeline.Request, stream streamFunc) (string, int, error) {
	extractor := newThinkingExtractor()
	count := 0

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-handle.Abort:
			cancel()
		case <-streamCtx.Done():
		}
	}()

	err := stream(streamCtx, req.SystemPrompt, lastMessage(req.Messages), ChatOptions{
		Model:       req.Agent,
		Temperature: req.SuggestedTemp,
	}, func(f Frame) error {
		if handle.PendingCorrection() {
			_ = sse.Event("aborted_for_correction", nil)
			cancel()
			return context.Canceled
		}

		visible, thoughts := extractor.Feed(f.Token)
		if visible != "" {
			handle.AppendPartial(visible)
			count++
			_ = sse.Event("token", map[string]any{"text": visible})
		}
		for _, t := range thoughts {
			_ = sse.Event("thinking", map[string]any{"text": t})
		}
		return nil
	})

	return handle.Text(), count, err
}

// streamSynthesized re-streams an already-merged synthesis result in
// token-cadence-sized chunks rather than all at once, so streaming clients
// see the same cadence whether or not synthesis ran.
func streamSynthesized(sse *sseWriter, handle *StreamHandle, text string) int {
	const chunkSize = 12
	count := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[i:end])
		handle.AppendPartial(chunk)
		count++
		_ = sse.Event("token", map[string]any{"text": chunk})
	}
	return count
}

func (o *Orchestrator) runKeepalive(sse *sseWriter, abort <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sse.Keepalive(); err != nil {
				return
			}
		case <-abort:
			return
		case <-done:
			return
		}
	}
}

func messageContents(msgs []validate.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func lastMessage(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1]
}
