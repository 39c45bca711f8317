package synthesis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	mu        sync.Mutex
	responses map[string]string
	calls     int
	failAll   bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failAll {
		return "", errors.New("backend unavailable")
	}
	for key, resp := range g.responses {
		if strings.Contains(userPrompt, key) {
			return resp, nil
		}
	}
	return "candidate answer", nil
}

func TestSynthesizerMergesTopTwoCandidates(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string]string{
		"Rate each": "7\n9\n3",
		"Combine":   "merged answer",
	}}
	s := New(gen, Config{Candidates: 3})

	result, err := s.Run(context.Background(), "system", "user question")
	require.NoError(t, err)
	assert.Equal(t, "merged answer", result.Text)
	assert.False(t, result.FellBack)
	assert.Equal(t, 3, result.CandidateCount)
}

func TestSynthesizerFallsBackWhenAllCandidatesFail(t *testing.T) {
	gen := &scriptedGenerator{failAll: true}
	s := New(gen, Config{Candidates: 3})

	_, err := s.Run(context.Background(), "system", "user question")
	assert.Error(t, err)
}

func TestSynthesizerFallsBackWhenJudgeFails(t *testing.T) {
	calls := 0
	gen := &fnGenerator{fn: func(userPrompt string) (string, error) {
		calls++
		if strings.Contains(userPrompt, "Rate each") {
			return "", errors.New("judge down")
		}
		return "candidate", nil
	}}
	s := New(gen, Config{Candidates: 2})

	result, err := s.Run(context.Background(), "system", "user question")
	require.NoError(t, err)
	assert.True(t, result.FellBack)
	assert.Contains(t, result.FallbackReason, "judge call failed")
}

type fnGenerator struct {
	fn func(userPrompt string) (string, error)
}

func (f *fnGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.fn(userPrompt)
}

func TestParseScoresHandlesMalformedLines(t *testing.T) {
	scores := parseScores("7\nnot a number\n9", 3)
	assert.Equal(t, []float64{7, 0, 9}, scores)
}

func TestNewRaisesCandidatesBelowTwo(t *testing.T) {
	s := New(&scriptedGenerator{}, Config{Candidates: 1})
	assert.Equal(t, 2, s.candidates)
}
