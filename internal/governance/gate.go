package governance

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

const tracerName = "github.com/fyrsmithlabs/rubric/internal/governance"

// Decision is the outcome of checking one proposed action. A blocked step
// is terminal and non-rewarded, but the caller still receives a well-formed
// decision with the substitute action and the full violation list.
type Decision struct {
	Action     verifier.Action `json:"action"`
	Blocked    bool            `json:"blocked"`
	Violations []Violation     `json:"violations,omitempty"`
}

// Gate intercepts proposed actions before they reach the environment. It is
// pure, non-blocking computation over in-memory data; logging is the
// caller's side channel.
type Gate struct {
	env   string
	cfg   Config
	rules []Rule
}

// NewGate builds a gate for one environment from its policy and rule set.
func NewGate(env string, cfg Config, rules []Rule) *Gate {
	return &Gate{env: env, cfg: cfg, rules: rules}
}

// Environment returns the environment name this gate governs.
func (g *Gate) Environment() string { return g.env }

// Config returns the gate's policy.
func (g *Gate) Config() Config { return g.cfg }

// Check evaluates every configured rule against the proposed action, then
// applies the risk threshold and the deferred hard-violation flag. All
// violations are returned even when execution proceeds; non-fatal
// violations are observability-only.
func (g *Gate) Check(ctx context.Context, chk CheckContext) Decision {
	_, span := otel.Tracer(tracerName).Start(ctx, "gate.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("rubric.environment", g.env),
		attribute.String("rubric.episode_id", chk.Step.EpisodeID),
		attribute.Int("rubric.step_id", chk.Step.StepID),
		attribute.String("rubric.action", chk.Action.Name),
	)

	var violations []Violation
	for _, rule := range g.rules {
		violations = append(violations, rule.Evaluate(ctx, chk)...)
	}

	if chk.Step.RiskScore > g.cfg.MaxRiskThreshold {
		violations = append(violations, Violation{
			EpisodeID: chk.Step.EpisodeID,
			StepID:    chk.Step.StepID,
			Rule:      RuleRiskThreshold,
			Severity:  SeverityError,
			Message: fmt.Sprintf("risk score %.3f exceeds threshold %.3f",
				chk.Step.RiskScore, g.cfg.MaxRiskThreshold),
			Details:    map[string]any{"risk_score": chk.Step.RiskScore, "threshold": g.cfg.MaxRiskThreshold},
			DetectedAt: time.Now().UTC(),
		})
	}

	if chk.HardViolation {
		violations = append(violations, Violation{
			EpisodeID:  chk.Step.EpisodeID,
			StepID:     chk.Step.StepID,
			Rule:       RuleHardViolation,
			Severity:   SeverityCritical,
			Message:    "previous step's reward breakdown carried a hard compliance violation",
			DetectedAt: time.Now().UTC(),
		})
	}

	decision := Decision{Action: chk.Action, Violations: violations}
	if g.cfg.ComplianceHardStop && hasCritical(violations) {
		decision.Blocked = true
		decision.Action = g.override(violations)
	}

	span.SetAttributes(
		attribute.Bool("rubric.blocked", decision.Blocked),
		attribute.Int("rubric.violations", len(violations)),
	)
	return decision
}

// override picks the substitute action for a blocked step: the first
// critical violation whose rule name has a configured override wins, else
// the no-op sentinel.
func (g *Gate) override(violations []Violation) verifier.Action {
	for _, v := range violations {
		if v.Severity != SeverityCritical {
			continue
		}
		if name, ok := g.cfg.OverrideActions[v.Rule]; ok {
			return verifier.Action{Name: name}
		}
	}
	return verifier.NoOp
}

func hasCritical(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
