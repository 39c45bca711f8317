// Package synthesis implements the optional generate-judge-merge
// multi-candidate completion strategy: N parallel candidate completions over
// the same prompt, a second call that judges them, and a third that merges
// the two highest-ranked into a single answer. Activated only when a
// deployment flag and the caller's tier both select it; any internal
// failure falls back to single-candidate generation.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Generator is implemented by the streaming orchestrator's backend client
// (kept outside this package to avoid importing it here, the same way the
// pipeline decouples from retrieval and frontier).
type Generator interface {
	Generate(ctx context.Context, prompt, userPrompt string) (string, error)
}

// Candidate is one parallel completion attempt.
type Candidate struct {
	Index int
	Text  string
	Err   error
}

// Judgment ranks a candidate.
type Judgment struct {
	Index int
	Score float64
}

// Result carries the merged answer plus the strategy metadata surfaced in
// the final `done` event.
type Result struct {
	Text           string
	CandidateCount int
	FellBack       bool
	FallbackReason string
	Duration       time.Duration
}

// Synthesizer runs the generate-judge-merge strategy.
type Synthesizer struct {
	generator   Generator
	candidates  int
	judgePrompt string
	mergePrompt string
}

// Config selects how many parallel candidates to generate and the prompts
// used for judging and merging.
type Config struct {
	Candidates  int
	JudgePrompt string
	MergePrompt string
}

// New builds a Synthesizer. Candidates below 2 are raised to 2 — synthesis
// with fewer than two candidates is meaningless and should not have been
// enabled.
func New(generator Generator, cfg Config) *Synthesizer {
	if cfg.Candidates < 2 {
		cfg.Candidates = 2
	}
	if cfg.JudgePrompt == "" {
		cfg.JudgePrompt = "Rate each candidate answer from 0 to 10 for correctness and clarity. Respond with one number per line, in order."
	}
	if cfg.MergePrompt == "" {
		cfg.MergePrompt = "Combine the best elements of these two candidate answers into a single, coherent answer."
	}
	return &Synthesizer{
		generator:   generator,
		candidates:  cfg.Candidates,
		judgePrompt: cfg.JudgePrompt,
		mergePrompt: cfg.MergePrompt,
	}
}

// Run generates N candidates in parallel, judges them, and merges the top
// two. On any internal failure it falls back to a single candidate's text
// (or to a direct single-candidate generation if even that failed).
func (s *Synthesizer) Run(ctx context.Context, systemPrompt, userPrompt string) (Result, error) {
	start := time.Now()

	candidates := s.generateCandidates(ctx, systemPrompt, userPrompt)
	ok := successfulCandidates(candidates)
	if len(ok) == 0 {
		return s.fallbackSingle(ctx, systemPrompt, userPrompt, start, "all candidates failed")
	}
	if len(ok) == 1 {
		return Result{
			Text:           ok[0].Text,
			CandidateCount: 1,
			FellBack:       true,
			FallbackReason: "only one candidate succeeded",
			Duration:       time.Since(start),
		}, nil
	}

	judged, err := s.judge(ctx, systemPrompt, ok)
	if err != nil {
		return Result{
			Text:           ok[0].Text,
			CandidateCount: len(ok),
			FellBack:       true,
			FallbackReason: fmt.Sprintf("judge call failed: %v", err),
			Duration:       time.Since(start),
		}, nil
	}

	top := topTwo(ok, judged)
	if len(top) < 2 {
		return Result{
			Text:           top[0].Text,
			CandidateCount: len(ok),
			FellBack:       true,
			FallbackReason: "fewer than two rankable candidates",
			Duration:       time.Since(start),
		}, nil
	}

	merged, err := s.generator.Generate(ctx, systemPrompt, s.mergePrompt+"\n\nAnswer A:\n"+top[0].Text+"\n\nAnswer B:\n"+top[1].Text)
	if err != nil {
		return Result{
			Text:           top[0].Text,
			CandidateCount: len(ok),
			FellBack:       true,
			FallbackReason: fmt.Sprintf("merge call failed: %v", err),
			Duration:       time.Since(start),
		}, nil
	}

	return Result{
		Text:           merged,
		CandidateCount: len(ok),
		FellBack:       false,
		Duration:       time.Since(start),
	}, nil
}

func (s *Synthesizer) generateCandidates(ctx context.Context, systemPrompt, userPrompt string) []Candidate {
	candidates := make([]Candidate, s.candidates)
	var wg sync.WaitGroup
	for i := 0; i < s.candidates; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			text, err := s.generator.Generate(ctx, systemPrompt, userPrompt)
			candidates[idx] = Candidate{Index: idx, Text: text, Err: err}
		}(i)
	}
	wg.Wait()
	return candidates
}

func successfulCandidates(candidates []Candidate) []Candidate {
	ok := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Err == nil && c.Text != "" {
			ok = append(ok, c)
		}
	}
	return ok
}

func (s *Synthesizer) fallbackSingle(ctx context.Context, systemPrompt, userPrompt string, start time.Time, reason string) (Result, error) {
	text, err := s.generator.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Result{}, fmt.Errorf("synthesis: fallback generation failed: %w", err)
	}
	return Result{
		Text:           text,
		CandidateCount: 0,
		FellBack:       true,
		FallbackReason: reason,
		Duration:       time.Since(start),
	}, nil
}

func topTwo(candidates []Candidate, judged []Judgment) []Candidate {
	byIndex := make(map[int]float64, len(judged))
	for _, j := range judged {
		byIndex[j.Index] = j.Score
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return byIndex[ranked[i].Index] > byIndex[ranked[j].Index]
	})

	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	return ranked
}
