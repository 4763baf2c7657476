// Package governance enforces safety and compliance policy over proposed
// actions before they reach the environment. Violations are data, not
// errors: they are a normal, frequent outcome of checking, and only the
// combination of a critical severity with a hard-stop policy blocks
// execution.
package governance

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

// Severity indicates how serious a violation is. Severity alone never
// blocks execution.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Names of violations the gate synthesizes itself.
const (
	RuleRiskThreshold = "risk_threshold_exceeded"
	RuleHardViolation = "compliance_hard_violation"
)

// Violation is one detected policy breach. Never mutated after creation;
// appended to the episode's list and to the audit log.
type Violation struct {
	EpisodeID  string         `json:"episode_id"`
	StepID     int            `json:"step_id"`
	Rule       string         `json:"rule_name"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
}

// CheckContext is everything a rule may inspect for one proposed action.
type CheckContext struct {
	Step   verifier.StepContext
	Action verifier.Action

	// PriorViolations holds the episode's violations so far.
	PriorViolations []Violation

	// HardViolation carries the previous step's breakdown flag; governance
	// and reward evaluation are decoupled, so a violation detected at step
	// N gates step N+1 and never changes step N's logged reward.
	HardViolation bool
}

// Rule evaluates one compliance policy against a proposed action. Rules
// return zero or more violations and never fail.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, chk CheckContext) []Violation
}

// Config is the per-environment governance policy.
type Config struct {
	MaxRiskThreshold   float64 `koanf:"max_risk_threshold" json:"max_risk_threshold"`
	ComplianceHardStop bool    `koanf:"compliance_hard_stop" json:"compliance_hard_stop"`
	HumanInTheLoop     bool    `koanf:"human_in_the_loop" json:"human_in_the_loop"`
	// OverrideActions maps a trigger (rule name) to the name of a safe
	// substitute action used when that rule forces a block.
	OverrideActions map[string]string `koanf:"override_actions" json:"override_actions,omitempty"`
}
