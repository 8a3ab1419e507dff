// Package engine evaluates the polling policy: given the agent's environmental
// signals it advises how far to stretch the polling cadences.
package engine

import "context"

// Battery is the battery reading passed to the policy.
type Battery struct {
	Known    bool    `json:"known"`
	Level    float64 `json:"level"` // percent, 0-100
	Charging bool    `json:"charging"`
}

// Signals is the policy input.
type Signals struct {
	Visible bool    `json:"visible"`
	Online  bool    `json:"online"`
	Battery Battery `json:"battery"`
	// Tracking reports whether a device is tracked (the 15s cadence is live).
	Tracking bool `json:"tracking"`
}

// Advice is the policy output. It is a soft hint: callers may ignore it.
type Advice struct {
	IntervalFactor float64
	LowBattery     bool
	Advisory       string
}

// DefaultAdvice is used when the policy cannot be evaluated.
var DefaultAdvice = Advice{IntervalFactor: 1}

// Advisor evaluates the polling policy.
type Advisor interface {
	Advise(ctx context.Context, s Signals) (Advice, error)
}
