package capability

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"

	svcerrors "github.com/kurogate/kuro/infrastructure/errors"
)

// PolicyEngine evaluates small JS expressions against a caller/request
// context, letting deployments override the tier-ceiling rule without a
// redeploy. Each evaluation gets a fresh goja runtime for isolation, the
// same pattern the gateway's script-execution core uses elsewhere.
type PolicyEngine struct {
	script string
}

// NewPolicyEngine constructs an engine from a JS expression that must
// evaluate to a boolean: true permits the requested profile, false forces
// the tier ceiling.
func NewPolicyEngine(script string) *PolicyEngine {
	if script == "" {
		script = "true"
	}
	return &PolicyEngine{script: script}
}

// Allow evaluates the policy script against ctx, exposing its fields as the
// `context` global.
func (p *PolicyEngine) Allow(ctx map[string]any) (bool, error) {
	vm := goja.New()
	if err := vm.Set("context", ctx); err != nil {
		return false, svcerrors.PolicyBlocked("failed to bind policy context")
	}

	result, err := vm.RunString(p.script)
	if err != nil {
		return false, fmt.Errorf("capability: policy script error: %w", err)
	}

	exported := result.Export()
	allowed, ok := exported.(bool)
	if !ok {
		return false, fmt.Errorf("capability: policy script must return a boolean, got %T", exported)
	}
	return allowed, nil
}

// ProfileDocument is a deployment-supplied JSON document describing
// profile overrides (e.g. a custom tool subset for a given tier), queried
// with JSONPath so operators can reshape it without a code change.
type ProfileDocument struct {
	raw any
}

// ParseProfileDocument decodes a JSON profile document for querying.
func ParseProfileDocument(data []byte) (*ProfileDocument, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("capability: parse profile document: %w", err)
	}
	return &ProfileDocument{raw: v}, nil
}

// Query runs a JSONPath expression against the profile document, e.g.
// "$.overrides.sovereign.toolSubset".
func (d *ProfileDocument) Query(path string) (any, error) {
	result, err := jsonpath.Get(path, d.raw)
	if err != nil {
		return nil, fmt.Errorf("capability: jsonpath query %q: %w", path, err)
	}
	return result, nil
}
