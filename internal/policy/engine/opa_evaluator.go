package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.locateme.polling"

// Default Rego policy: stretch cadences when running on a low, discharging battery.
const defaultRegoPolicy = `package locateme.polling

default low_battery := false
default interval_factor := 1
default advisory := ""

low_battery if {
	input.battery.known
	input.battery.level <= 20
	not input.battery.charging
}

interval_factor := 2 if low_battery

advisory := "low battery and not charging" if low_battery
`

// OPAAdvisor evaluates the polling policy with OPA Rego.
type OPAAdvisor struct {
	query rego.PreparedEvalQuery
}

// NewOPAAdvisor compiles policy (the default policy when empty) and prepares its query.
func NewOPAAdvisor(ctx context.Context, policy string) (*OPAAdvisor, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("polling.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	return &OPAAdvisor{query: q}, nil
}

// LoadPolicy returns the contents of path, or "" (the default policy) when path is empty.
func LoadPolicy(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy file: %w", err)
	}
	return string(b), nil
}

// HealthCheck verifies that the prepared policy evaluates against a minimal input.
func (a *OPAAdvisor) HealthCheck(ctx context.Context) error {
	rs, err := a.query.Eval(ctx, rego.EvalInput(toInput(Signals{Visible: true, Online: true})))
	if err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// Advise evaluates the policy. Evaluation failures are logged and yield DefaultAdvice.
func (a *OPAAdvisor) Advise(ctx context.Context, s Signals) (Advice, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(toInput(s)))
	if err != nil {
		log.Printf("policy: evaluation failed: %v, using defaults", err)
		return DefaultAdvice, nil
	}
	out := DefaultAdvice
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return out, nil
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return out, nil
	}
	if v, ok := doc["low_battery"].(bool); ok {
		out.LowBattery = v
	}
	if v, ok := doc["advisory"].(string); ok {
		out.Advisory = v
	}
	if f, ok := number(doc["interval_factor"]); ok && f >= 1 {
		out.IntervalFactor = f
	}
	return out, nil
}

func toInput(s Signals) map[string]interface{} {
	return map[string]interface{}{
		"visible":  s.Visible,
		"online":   s.Online,
		"tracking": s.Tracking,
		"battery": map[string]interface{}{
			"known":    s.Battery.Known,
			"level":    s.Battery.Level,
			"charging": s.Battery.Charging,
		},
	}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
