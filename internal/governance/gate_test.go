package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

// fixedRule returns the same violations on every evaluation.
type fixedRule struct {
	name       string
	violations []Violation
}

func (r *fixedRule) Name() string { return r.name }
func (r *fixedRule) Evaluate(context.Context, CheckContext) []Violation {
	return r.violations
}

func critical(rule string) Violation {
	return Violation{Rule: rule, Severity: SeverityCritical, Message: "boom"}
}

func TestGate_CleanActionPassesThrough(t *testing.T) {
	gate := NewGate("hospital_ops", Config{MaxRiskThreshold: 0.8}, nil)

	proposed := verifier.Action{Name: "schedule_scan"}
	d := gate.Check(context.Background(), CheckContext{
		Step:   verifier.StepContext{RiskScore: 0.2},
		Action: proposed,
	})

	assert.False(t, d.Blocked)
	assert.Equal(t, proposed, d.Action)
	assert.Empty(t, d.Violations)
}

func TestGate_RiskThresholdSynthesized(t *testing.T) {
	gate := NewGate("hospital_ops", Config{MaxRiskThreshold: 0.5}, nil)

	d := gate.Check(context.Background(), CheckContext{
		Step:   verifier.StepContext{RiskScore: 0.9},
		Action: verifier.Action{Name: "discharge_patient"},
	})

	require.Len(t, d.Violations, 1)
	assert.Equal(t, RuleRiskThreshold, d.Violations[0].Rule)
	assert.Equal(t, SeverityError, d.Violations[0].Severity)
	// error severity alone never blocks
	assert.False(t, d.Blocked)
	assert.Equal(t, "discharge_patient", d.Action.Name)
}

func TestGate_HardStopBlocksOnCritical(t *testing.T) {
	gate := NewGate("hospital_ops",
		Config{ComplianceHardStop: true},
		[]Rule{&fixedRule{name: "r", violations: []Violation{critical("r")}}},
	)

	d := gate.Check(context.Background(), CheckContext{Action: verifier.Action{Name: "x"}})
	assert.True(t, d.Blocked)
	assert.Equal(t, verifier.NoOp, d.Action)
	require.Len(t, d.Violations, 1)
}

func TestGate_NoHardStopNeverBlocks(t *testing.T) {
	gate := NewGate("hospital_ops",
		Config{ComplianceHardStop: false},
		[]Rule{&fixedRule{name: "r", violations: []Violation{critical("r")}}},
	)

	d := gate.Check(context.Background(), CheckContext{Action: verifier.Action{Name: "x"}})
	assert.False(t, d.Blocked)
	assert.Equal(t, "x", d.Action.Name)
	// violations still returned for logging
	require.Len(t, d.Violations, 1)
}

func TestGate_ConfiguredOverrideAction(t *testing.T) {
	gate := NewGate("hospital_ops",
		Config{
			ComplianceHardStop: true,
			OverrideActions:    map[string]string{"r": "escalate_to_charge_nurse"},
		},
		[]Rule{&fixedRule{name: "r", violations: []Violation{critical("r")}}},
	)

	d := gate.Check(context.Background(), CheckContext{Action: verifier.Action{Name: "x"}})
	assert.True(t, d.Blocked)
	assert.Equal(t, "escalate_to_charge_nurse", d.Action.Name)
}

func TestGate_DeferredHardViolationGatesNextStep(t *testing.T) {
	gate := NewGate("hospital_ops", Config{ComplianceHardStop: true}, nil)

	d := gate.Check(context.Background(), CheckContext{
		Action:        verifier.Action{Name: "x"},
		HardViolation: true,
	})
	assert.True(t, d.Blocked)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, RuleHardViolation, d.Violations[0].Rule)
	assert.Equal(t, SeverityCritical, d.Violations[0].Severity)
}

func TestBlocklistRule(t *testing.T) {
	rule := NewBlocklistRule([]string{"delete_record"}, SeverityCritical)
	assert.Equal(t, "action_blocklist", rule.Name())

	v := rule.Evaluate(context.Background(), CheckContext{Action: verifier.Action{Name: "delete_record"}})
	require.Len(t, v, 1)
	assert.Equal(t, SeverityCritical, v[0].Severity)

	assert.Empty(t, rule.Evaluate(context.Background(), CheckContext{Action: verifier.Action{Name: "read_record"}}))
}

func TestApprovalRule(t *testing.T) {
	rule := NewApprovalRule(0.5)

	low := CheckContext{Step: verifier.StepContext{RiskScore: 0.1}, Action: verifier.Action{Name: "x"}}
	assert.Empty(t, rule.Evaluate(context.Background(), low))

	high := CheckContext{Step: verifier.StepContext{RiskScore: 0.9}, Action: verifier.Action{Name: "x"}}
	v := rule.Evaluate(context.Background(), high)
	require.Len(t, v, 1)
	assert.Equal(t, SeverityError, v[0].Severity)

	approved := high
	approved.Action.Params = map[string]any{"approved": true}
	assert.Empty(t, rule.Evaluate(context.Background(), approved))
}

func TestProtectedFieldRule(t *testing.T) {
	rule := NewProtectedFieldRule(nil)

	v := rule.Evaluate(context.Background(), CheckContext{
		Action: verifier.Action{
			Name:   "update_chart",
			Params: map[string]any{"patient_ssn": "123-45-6789", "note": "ok"},
		},
	})
	require.Len(t, v, 1)
	assert.Equal(t, SeverityCritical, v[0].Severity)
	assert.Equal(t, "patient_ssn", v[0].Details["field"])

	assert.Empty(t, rule.Evaluate(context.Background(), CheckContext{
		Action: verifier.Action{Name: "update_chart", Params: map[string]any{"note": "ok"}},
	}))
}

// A human_in_the_loop policy must enforce approval even when no explicit
// human_approval rule is configured.
func TestBuildRuleSet_HumanInTheLoop(t *testing.T) {
	cfg := Config{HumanInTheLoop: true, MaxRiskThreshold: 1.0}
	rules, err := BuildRuleSet(cfg, nil)
	require.NoError(t, err)
	gate := NewGate("hospital_ops", cfg, rules)

	d := gate.Check(context.Background(), CheckContext{
		Step:   verifier.StepContext{RiskScore: 0.99},
		Action: verifier.Action{Name: "discharge_patient"},
	})
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "human_approval_required", d.Violations[0].Rule)

	// approved actions pass
	d = gate.Check(context.Background(), CheckContext{
		Step: verifier.StepContext{RiskScore: 0.99},
		Action: verifier.Action{
			Name:   "discharge_patient",
			Params: map[string]any{"approved": true},
		},
	})
	assert.Empty(t, d.Violations)
}

// An explicit human_approval rule keeps its configured risk floor; the flag
// does not add a second approval rule.
func TestBuildRuleSet_ExplicitApprovalRuleNotDuplicated(t *testing.T) {
	cfg := Config{HumanInTheLoop: true, MaxRiskThreshold: 1.0}
	rules, err := BuildRuleSet(cfg, []RuleSpec{
		{Kind: RuleKindHumanApproval, RiskFloor: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	gate := NewGate("hospital_ops", cfg, rules)

	// below the configured floor: no approval needed
	d := gate.Check(context.Background(), CheckContext{
		Step:   verifier.StepContext{RiskScore: 0.3},
		Action: verifier.Action{Name: "discharge_patient"},
	})
	assert.Empty(t, d.Violations)

	d = gate.Check(context.Background(), CheckContext{
		Step:   verifier.StepContext{RiskScore: 0.7},
		Action: verifier.Action{Name: "discharge_patient"},
	})
	require.Len(t, d.Violations, 1)
	assert.Equal(t, "human_approval_required", d.Violations[0].Rule)
}
