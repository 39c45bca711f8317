package synthesis

import (
	"context"
	"strconv"
	"strings"
)

// judge asks the generator to score each candidate and parses one numeric
// score per line, in candidate order. A line that doesn't parse scores 0
// rather than failing the whole judgment — a single malformed line
// shouldn't discard an otherwise-usable ranking.
func (s *Synthesizer) judge(ctx context.Context, systemPrompt string, candidates []Candidate) ([]Judgment, error) {
	var b strings.Builder
	b.WriteString(s.judgePrompt)
	for i, c := range candidates {
		b.WriteString("\n\nCandidate ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(":\n")
		b.WriteString(c.Text)
	}

	response, err := s.generator.Generate(ctx, systemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	scores := parseScores(response, len(candidates))
	judged := make([]Judgment, len(candidates))
	for i, c := range candidates {
		judged[i] = Judgment{Index: c.Index, Score: scores[i]}
	}
	return judged, nil
}

// parseScores extracts one float per non-empty line of a judge response, in
// order. Extra lines beyond n are ignored; missing lines score 0.
func parseScores(response string, n int) []float64 {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	scores := make([]float64, n)
	idx := 0
	for _, line := range lines {
		if idx >= n {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		var parsed float64
		found := false
		for _, f := range fields {
			f = strings.TrimRight(f, ".:,")
			if v, err := strconv.ParseFloat(f, 64); err == nil {
				parsed = v
				found = true
				break
			}
		}
		if found {
			scores[idx] = parsed
		}
		idx++
	}
	return scores
}
