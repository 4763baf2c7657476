package verifier

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/fyrsmithlabs/rubric/internal/verifier"

// FailedMarkerSuffix is appended to a member name to produce the breakdown
// marker recorded when that member returned an input error.
const FailedMarkerSuffix = "_verifier_failed"

// Breakdown is the itemized explanation of one scalar reward. Component
// keys are "<VerifierName>_<ComponentName>" and hold the final weighted
// contribution, so Total is exactly the sum of Components.
type Breakdown struct {
	Components    map[string]float64 `json:"components"`
	Total         float64            `json:"total"`
	HardViolation bool               `json:"hard_violation,omitempty"`
	Failed        []string           `json:"failed,omitempty"`
}

// MemberReport records one member's raw output for audit completeness. A
// member that returned no components is still reported: "no applicable
// rule" is distinct from "not evaluated".
type MemberReport struct {
	Name       string             `json:"name"`
	Kind       Kind               `json:"kind"`
	Weight     float64            `json:"weight"`
	Components map[string]float64 `json:"components"`
	Err        error              `json:"-"`
}

// Member pairs a verifier with its ensemble weight.
type Member struct {
	Verifier Verifier
	Weight   float64
}

// criticalThresholder is implemented by compliance verifiers that carry a
// hard-violation threshold.
type criticalThresholder interface {
	CriticalThreshold() float64
}

// Ensemble composes an ordered list of weighted verifiers into one combined
// score and merged breakdown.
type Ensemble struct {
	name    string
	members []Member
}

// NewEnsemble builds an ensemble. Member order is preserved; weights need
// not sum to one.
func NewEnsemble(name string, members []Member) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble %q: must have at least one member", name)
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.Verifier == nil {
			return nil, fmt.Errorf("ensemble %q: nil member verifier", name)
		}
		if _, dup := seen[m.Verifier.Name()]; dup {
			return nil, fmt.Errorf("ensemble %q: duplicate member %q", name, m.Verifier.Name())
		}
		seen[m.Verifier.Name()] = struct{}{}
	}
	return &Ensemble{name: name, members: members}, nil
}

// Name returns the ensemble identifier (normally the environment name).
func (e *Ensemble) Name() string { return e.name }

// Evaluate runs every member over the transition and merges the results.
// A failing member contributes zero, gains a "<name>_verifier_failed"
// marker component, and appears in Breakdown.Failed; it never corrupts the
// rest of the result. Callers always receive a well-formed breakdown.
func (e *Ensemble) Evaluate(ctx context.Context, tr Transition) (*Breakdown, []MemberReport) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ensemble.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("rubric.ensemble", e.name),
		attribute.String("rubric.episode_id", tr.Step.EpisodeID),
		attribute.Int("rubric.step_id", tr.Step.StepID),
	)

	breakdown := &Breakdown{Components: make(map[string]float64)}
	reports := make([]MemberReport, 0, len(e.members))

	for _, m := range e.members {
		report := MemberReport{
			Name:   m.Verifier.Name(),
			Kind:   m.Verifier.Kind(),
			Weight: m.Weight,
		}
		components, err := m.Verifier.Evaluate(ctx, tr)
		if err != nil {
			report.Err = err
			reports = append(reports, report)
			breakdown.Components[m.Verifier.Name()+FailedMarkerSuffix] = 0
			breakdown.Failed = append(breakdown.Failed, m.Verifier.Name())
			continue
		}
		if components == nil {
			components = map[string]float64{}
		}
		report.Components = components
		reports = append(reports, report)

		for component, value := range components {
			contribution := m.Weight * value
			breakdown.Components[m.Verifier.Name()+"_"+component] = contribution
			breakdown.Total += contribution
		}

		if m.Verifier.Kind() == KindCompliance {
			e.flagHardViolation(breakdown, m.Verifier, components)
		}
	}

	span.SetAttributes(
		attribute.Float64("rubric.reward", breakdown.Total),
		attribute.Bool("rubric.hard_violation", breakdown.HardViolation),
	)
	return breakdown, reports
}

// flagHardViolation marks the breakdown when a compliance member's negative
// component exceeds that member's critical threshold in magnitude. The flag
// is read by the governance gate on the next step; it never changes the
// already-computed reward for this step.
func (e *Ensemble) flagHardViolation(b *Breakdown, v Verifier, components map[string]float64) {
	critical := 0.0
	if ct, ok := v.(criticalThresholder); ok {
		critical = ct.CriticalThreshold()
	}
	for _, value := range components {
		if value < 0 && math.Abs(value) > critical {
			b.HardViolation = true
			return
		}
	}
}
