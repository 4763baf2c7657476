// Package verifier scores state transitions along independent evaluation
// dimensions and composes the per-dimension scores into a single auditable
// reward signal.
package verifier

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned for malformed evaluation input. Bad domain outcomes are
// never errors; they surface as low or negative component scores.
var (
	ErrMissingFeature   = errors.New("required feature missing")
	ErrMissingThreshold = errors.New("required threshold missing")
	ErrNotNumeric       = errors.New("feature is not numeric")
)

// Kind identifies the evaluation dimension a verifier covers.
type Kind string

const (
	KindClinical    Kind = "clinical"
	KindOperational Kind = "operational"
	KindFinancial   Kind = "financial"
	KindCompliance  Kind = "compliance"
	KindWorkflow    Kind = "workflow"
)

// Valid reports whether k is a known verifier kind.
func (k Kind) Valid() bool {
	switch k {
	case KindClinical, KindOperational, KindFinancial, KindCompliance, KindWorkflow:
		return true
	}
	return false
}

// State is an opaque key-value snapshot supplied by the environment layer.
// Values are numeric or string fields; verifiers read only the features
// named by their configuration.
type State map[string]any

// Action is a proposed or executed agent action. Index carries the discrete
// action index used by scripted workflows (0 means "the expected step").
type Action struct {
	Name   string         `json:"name"`
	Index  int            `json:"index"`
	Params map[string]any `json:"params,omitempty"`
}

// NoOp is the sentinel substitute used when governance blocks an action and
// no override is configured.
var NoOp = Action{Name: "noop"}

// StepContext carries the per-step metadata every evaluation receives.
type StepContext struct {
	EpisodeID   string  `json:"episode_id"`
	StepID      int     `json:"step_id"`
	Environment string  `json:"environment"`
	RiskScore   float64 `json:"risk_score"`
	// Status is the optional domain status label used by status-keyed
	// workflow reward tables.
	Status string `json:"status,omitempty"`
}

// Transition is one observed state transition.
type Transition struct {
	State     State
	Action    Action
	NextState State
	Step      StepContext
}

// Verifier scores one transition along a single dimension. Implementations
// must not mutate the transition and must return an error only for
// malformed input (for example a missing required feature).
type Verifier interface {
	Name() string
	Kind() Kind
	Evaluate(ctx context.Context, tr Transition) (map[string]float64, error)
}

// Float extracts a numeric feature from a state snapshot.
func Float(s State, key string) (float64, error) {
	v, ok := s[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingFeature, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %q (%T)", ErrNotNumeric, key, v)
	}
}
