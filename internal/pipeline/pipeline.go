// Package pipeline implements the fixed ordered sequence of stages every
// chat request passes through before it reaches the backend: threat filter,
// rate limiter, retrieval, intent router, memory/context, agent
// orchestrator, fire-control/frontier decision, and prompt builder. Each
// stage emits an `active`-then-`complete`-or-`blocked` pair of layer events;
// a blocked stage ends the request without reaching the backend.
package pipeline

import (
	"context"

	"github.com/kurogate/kuro/internal/authn"
)

// Request is threaded through every stage, accumulating the fields later
// stages need.
type Request struct {
	Caller       authn.Caller
	SessionID    string
	Messages     []string
	Mode         string
	Skill        string
	PowerDial    string
	RAGNamespace string
	RAGTopK      int
	UseRAG       bool

	// Populated by stages as the pipeline runs.
	Intent          string
	SuggestedTemp   float64
	ReasoningLevel  int
	History         []string
	RetrievedChunks []string
	Agent           string
	EffectiveMode   string
	DowngradeReason string
	RouteExternal   bool
	SystemPrompt    string
}

// Decision is a stage's outcome.
type Decision struct {
	Blocked bool
	Reason  string
	Meta    map[string]any
}

func clear(meta map[string]any) Decision { return Decision{Blocked: false, Meta: meta} }
func blocked(reason string, meta map[string]any) Decision {
	return Decision{Blocked: true, Reason: reason, Meta: meta}
}

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Run(ctx context.Context, req *Request) (Decision, error)
}

// LayerEvent mirrors the SSE `layer` event emitted at stage entry and exit.
type LayerEvent struct {
	Stage  string
	Status string // "active", "complete", "blocked"
	Reason string
	Meta   map[string]any
}

const (
	StatusActive   = "active"
	StatusComplete = "complete"
	StatusBlocked  = "blocked"
)

// Pipeline runs an ordered list of stages.
type Pipeline struct {
	stages []Stage
}

// New constructs a pipeline from an ordered stage list.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Result is the pipeline's terminal outcome.
type Result struct {
	Blocked bool
	Stage   string
	Reason  string
}

// Run executes every stage in order, invoking emit around each one. It
// returns as soon as a stage blocks or errors.
func (p *Pipeline) Run(ctx context.Context, req *Request, emit func(LayerEvent)) (Result, error) {
	for _, stage := range p.stages {
		if emit != nil {
			emit(LayerEvent{Stage: stage.Name(), Status: StatusActive})
		}

		decision, err := stage.Run(ctx, req)
		if err != nil {
			return Result{}, err
		}

		if decision.Blocked {
			if emit != nil {
				emit(LayerEvent{Stage: stage.Name(), Status: StatusBlocked, Reason: decision.Reason, Meta: decision.Meta})
			}
			return Result{Blocked: true, Stage: stage.Name(), Reason: decision.Reason}, nil
		}

		if emit != nil {
			emit(LayerEvent{Stage: stage.Name(), Status: StatusComplete, Meta: decision.Meta})
		}
	}
	return Result{Blocked: false}, nil
}
