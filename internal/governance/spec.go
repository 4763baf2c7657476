package governance

import (
	"fmt"
)

// Rule kinds accepted in configuration.
const (
	RuleKindBlocklist      = "action_blocklist"
	RuleKindHumanApproval  = "human_approval"
	RuleKindProtectedField = "protected_field"
)

// RuleSpec is the configuration record for one compliance rule.
type RuleSpec struct {
	Kind      string   `koanf:"kind" json:"kind"`
	Severity  Severity `koanf:"severity" json:"severity,omitempty"`
	Actions   []string `koanf:"actions" json:"actions,omitempty"`
	Fields    []string `koanf:"fields" json:"fields,omitempty"`
	RiskFloor float64  `koanf:"risk_floor" json:"risk_floor,omitempty"`
}

// BuildRule constructs a rule from its spec. Unknown kinds and malformed
// specs are configuration errors: the process refuses to start rather than
// run with a partially-loaded policy.
func BuildRule(spec RuleSpec) (Rule, error) {
	switch spec.Kind {
	case RuleKindBlocklist:
		if len(spec.Actions) == 0 {
			return nil, fmt.Errorf("rule %s: actions must not be empty", spec.Kind)
		}
		severity := spec.Severity
		if severity == "" {
			severity = SeverityError
		}
		if !severity.Valid() {
			return nil, fmt.Errorf("rule %s: unknown severity %q", spec.Kind, severity)
		}
		return NewBlocklistRule(spec.Actions, severity), nil

	case RuleKindHumanApproval:
		if spec.RiskFloor < 0 {
			return nil, fmt.Errorf("rule %s: risk_floor must be >= 0", spec.Kind)
		}
		return NewApprovalRule(spec.RiskFloor), nil

	case RuleKindProtectedField:
		return NewProtectedFieldRule(spec.Fields), nil

	default:
		return nil, fmt.Errorf("unknown rule kind %q", spec.Kind)
	}
}

// BuildRules constructs every rule in order.
func BuildRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		rule, err := BuildRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// BuildRuleSet constructs an environment's rule set from its specs and its
// governance policy. A human_in_the_loop policy without an explicit
// human_approval rule gets one with a zero risk floor: every action then
// requires approval.
func BuildRuleSet(cfg Config, specs []RuleSpec) ([]Rule, error) {
	rules, err := BuildRules(specs)
	if err != nil {
		return nil, err
	}
	if cfg.HumanInTheLoop && !hasKind(specs, RuleKindHumanApproval) {
		rules = append(rules, NewApprovalRule(0))
	}
	return rules, nil
}

func hasKind(specs []RuleSpec, kind string) bool {
	for _, s := range specs {
		if s.Kind == kind {
			return true
		}
	}
	return false
}
