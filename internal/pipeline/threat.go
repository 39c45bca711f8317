package pipeline

import (
	"context"
	"strings"

	"github.com/dop251/goja"
)

// ThreatFilter scores the message list with a small JS expression and
// blocks the request when the score crosses the configured threshold. The
// default script is a simple keyword tally; deployments may override it to
// change scoring without a redeploy.
type ThreatFilter struct {
	script    string
	threshold float64
	keywords  []string
}

// NewThreatFilter constructs a filter. An empty script falls back to a
// built-in keyword-count heuristic exposed to the script as `keywordHits`.
func NewThreatFilter(script string, threshold float64, keywords []string) *ThreatFilter {
	if len(keywords) == 0 {
		keywords = []string{"ignore previous instructions", "jailbreak", "bypass safety", "exfiltrate"}
	}
	if script == "" {
		script = "keywordHits > 0"
	}
	return &ThreatFilter{script: script, threshold: threshold, keywords: keywords}
}

func (f *ThreatFilter) Name() string { return "threat_filter" }

func (f *ThreatFilter) Run(ctx context.Context, req *Request) (Decision, error) {
	joined := strings.ToLower(strings.Join(req.Messages, "\n"))

	hits := 0
	for _, kw := range f.keywords {
		if strings.Contains(joined, kw) {
			hits++
		}
	}

	vm := goja.New()
	if err := vm.Set("keywordHits", hits); err != nil {
		return Decision{}, err
	}
	if err := vm.Set("threshold", f.threshold); err != nil {
		return Decision{}, err
	}

	result, err := vm.RunString(f.script)
	if err != nil {
		return Decision{}, err
	}

	if blockedVal, ok := result.Export().(bool); ok && blockedVal {
		return blocked("threat_detected", map[string]any{"keyword_hits": hits}), nil
	}
	return clear(map[string]any{"keyword_hits": hits}), nil
}
