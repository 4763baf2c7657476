package governance

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BlocklistRule flags actions whose name appears on a configured blocklist.
type BlocklistRule struct {
	blocked  map[string]struct{}
	severity Severity
}

// NewBlocklistRule builds a blocklist rule at the given severity.
func NewBlocklistRule(actions []string, severity Severity) *BlocklistRule {
	blocked := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		blocked[a] = struct{}{}
	}
	return &BlocklistRule{blocked: blocked, severity: severity}
}

// Name returns the rule identifier.
func (r *BlocklistRule) Name() string { return "action_blocklist" }

// Evaluate flags a blocklisted action name.
func (r *BlocklistRule) Evaluate(_ context.Context, chk CheckContext) []Violation {
	if _, ok := r.blocked[chk.Action.Name]; !ok {
		return nil
	}
	return []Violation{{
		EpisodeID:  chk.Step.EpisodeID,
		StepID:     chk.Step.StepID,
		Rule:       r.Name(),
		Severity:   r.severity,
		Message:    fmt.Sprintf("action %q is blocklisted", chk.Action.Name),
		Details:    map[string]any{"action": chk.Action.Name},
		DetectedAt: time.Now().UTC(),
	}}
}

// ApprovalRule requires explicit human approval on actions at or above a
// risk floor. Used when the environment's governance policy sets
// human_in_the_loop.
type ApprovalRule struct {
	riskFloor float64
}

// NewApprovalRule builds an approval rule; actions with a risk score at or
// above riskFloor must carry an "approved" parameter set to true.
func NewApprovalRule(riskFloor float64) *ApprovalRule {
	return &ApprovalRule{riskFloor: riskFloor}
}

// Name returns the rule identifier.
func (r *ApprovalRule) Name() string { return "human_approval_required" }

// Evaluate flags unapproved actions at or above the risk floor.
func (r *ApprovalRule) Evaluate(_ context.Context, chk CheckContext) []Violation {
	if chk.Step.RiskScore < r.riskFloor {
		return nil
	}
	if approved, _ := chk.Action.Params["approved"].(bool); approved {
		return nil
	}
	return []Violation{{
		EpisodeID:  chk.Step.EpisodeID,
		StepID:     chk.Step.StepID,
		Rule:       r.Name(),
		Severity:   SeverityError,
		Message:    fmt.Sprintf("action %q requires human approval at risk %.2f", chk.Action.Name, chk.Step.RiskScore),
		Details:    map[string]any{"risk_score": chk.Step.RiskScore},
		DetectedAt: time.Now().UTC(),
	}}
}

// defaultProtectedFields are parameter keys that must never travel on an
// action. Matches the redaction list used by the logging layer.
var defaultProtectedFields = []string{
	"password", "secret", "token", "api_key",
	"authorization", "credential", "ssn", "mrn",
}

// ProtectedFieldRule flags actions carrying sensitive parameter keys.
// A hit is critical: under a hard-stop policy it terminates the episode.
type ProtectedFieldRule struct {
	fields []string
}

// NewProtectedFieldRule builds the rule; an empty list uses the defaults.
func NewProtectedFieldRule(fields []string) *ProtectedFieldRule {
	if len(fields) == 0 {
		fields = defaultProtectedFields
	}
	return &ProtectedFieldRule{fields: fields}
}

// Name returns the rule identifier.
func (r *ProtectedFieldRule) Name() string { return "protected_field" }

// Evaluate flags any sensitive key present in the action parameters.
func (r *ProtectedFieldRule) Evaluate(_ context.Context, chk CheckContext) []Violation {
	var violations []Violation
	for key := range chk.Action.Params {
		lower := strings.ToLower(key)
		for _, field := range r.fields {
			if strings.Contains(lower, field) {
				violations = append(violations, Violation{
					EpisodeID:  chk.Step.EpisodeID,
					StepID:     chk.Step.StepID,
					Rule:       r.Name(),
					Severity:   SeverityCritical,
					Message:    fmt.Sprintf("action %q carries protected field %q", chk.Action.Name, key),
					Details:    map[string]any{"field": key},
					DetectedAt: time.Now().UTC(),
				})
				break
			}
		}
	}
	return violations
}
