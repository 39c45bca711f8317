package pipeline

import (
	"context"
	"strings"
)

// intentRule maps a keyword set to an intent label, suggested temperature,
// and reasoning level. IntentRouter's blockedIntents set names intents the
// deployment policy refuses outright.
type intentRule struct {
	label       string
	keywords    []string
	temperature float64
	reasoning   int
}

var intentRules = []intentRule{
	{label: "code", keywords: []string{"function", "bug", "compile", "code", "stack trace"}, temperature: 0.3, reasoning: 2},
	{label: "creative", keywords: []string{"poem", "story", "write a"}, temperature: 0.9, reasoning: 0},
	{label: "analysis", keywords: []string{"analyze", "compare", "explain why"}, temperature: 0.4, reasoning: 2},
	{label: "chat", keywords: nil, temperature: 0.7, reasoning: 1},
}

// IntentRouter labels the last message with an intent and a suggested
// temperature/reasoning level, and enforces a deployment policy block list.
type IntentRouter struct {
	blockedIntents map[string]bool
}

// NewIntentRouter constructs a router; blockedIntents names intent labels
// the deployment refuses to serve at all.
func NewIntentRouter(blockedIntents []string) *IntentRouter {
	blocked := make(map[string]bool, len(blockedIntents))
	for _, b := range blockedIntents {
		blocked[b] = true
	}
	return &IntentRouter{blockedIntents: blocked}
}

func (r *IntentRouter) Name() string { return "intent_router" }

func (r *IntentRouter) Run(ctx context.Context, req *Request) (Decision, error) {
	if len(req.Messages) == 0 {
		req.Intent = "chat"
		req.SuggestedTemp = 0.7
		req.ReasoningLevel = 1
		return clear(map[string]any{"intent": req.Intent}), nil
	}

	last := strings.ToLower(req.Messages[len(req.Messages)-1])
	matched := intentRules[len(intentRules)-1]
	for _, rule := range intentRules[:len(intentRules)-1] {
		for _, kw := range rule.keywords {
			if strings.Contains(last, kw) {
				matched = rule
				break
			}
		}
		if matched.label == rule.label {
			break
		}
	}

	if r.blockedIntents[matched.label] {
		return blocked("policy_blocked_intent", map[string]any{"intent": matched.label}), nil
	}

	req.Intent = matched.label
	req.SuggestedTemp = matched.temperature
	req.ReasoningLevel = matched.reasoning
	return clear(map[string]any{"intent": matched.label}), nil
}
