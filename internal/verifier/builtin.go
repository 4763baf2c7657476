package verifier

import (
	"context"
	"fmt"
	"math"
)

// DeltaVerifier scores each configured component by the change of the
// like-named numeric feature between state and nextState. An optional
// "scale_<component>" threshold normalizes the delta; the component weight
// is signed, so a negative weight expresses "lower is better" dimensions
// such as queue length or cost.
//
// DeltaVerifier backs the clinical, operational, and financial kinds; the
// three differ only in which features their configuration names.
type DeltaVerifier struct {
	name       string
	kind       Kind
	weights    map[string]float64
	thresholds map[string]float64
}

// NewDeltaVerifier builds a delta-scoring verifier. kind must be clinical,
// operational, or financial.
func NewDeltaVerifier(name string, kind Kind, weights, thresholds map[string]float64) (*DeltaVerifier, error) {
	switch kind {
	case KindClinical, KindOperational, KindFinancial:
	default:
		return nil, fmt.Errorf("delta verifier does not support kind %q", kind)
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("verifier %q: weights must not be empty", name)
	}
	return &DeltaVerifier{name: name, kind: kind, weights: weights, thresholds: thresholds}, nil
}

func (v *DeltaVerifier) Name() string { return v.name }
func (v *DeltaVerifier) Kind() Kind   { return v.kind }

// Evaluate returns one weighted component per configured feature.
func (v *DeltaVerifier) Evaluate(_ context.Context, tr Transition) (map[string]float64, error) {
	components := make(map[string]float64, len(v.weights))
	for feature, weight := range v.weights {
		before, err := Float(tr.State, feature)
		if err != nil {
			return nil, fmt.Errorf("verifier %q: %w", v.name, err)
		}
		after, err := Float(tr.NextState, feature)
		if err != nil {
			return nil, fmt.Errorf("verifier %q: %w", v.name, err)
		}
		delta := after - before
		if scale, ok := v.thresholds["scale_"+feature]; ok && scale != 0 {
			delta /= scale
		}
		components[feature] = weight * delta
	}
	return components, nil
}

// ComplianceVerifier scores each configured component against a hard limit.
// A feature at or under its "max_<component>" threshold scores zero;
// over-limit features score negative, proportional to the excess. Component
// values are never positive.
type ComplianceVerifier struct {
	name       string
	weights    map[string]float64
	thresholds map[string]float64
	critical   float64
}

// NewComplianceVerifier builds a compliance verifier. Every component must
// have a "max_<component>" threshold and a non-negative weight; the optional
// "critical" threshold sets the magnitude at which an over-limit component
// marks the ensemble breakdown as a hard violation.
func NewComplianceVerifier(name string, weights, thresholds map[string]float64) (*ComplianceVerifier, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("verifier %q: weights must not be empty", name)
	}
	for component, weight := range weights {
		if weight < 0 {
			return nil, fmt.Errorf("verifier %q: component %q has negative weight; compliance weights must be >= 0", name, component)
		}
		if _, ok := thresholds["max_"+component]; !ok {
			return nil, fmt.Errorf("verifier %q: component %q: %w (max_%s)", name, component, ErrMissingThreshold, component)
		}
	}
	return &ComplianceVerifier{
		name:       name,
		weights:    weights,
		thresholds: thresholds,
		critical:   thresholds["critical"],
	}, nil
}

func (v *ComplianceVerifier) Name() string { return v.name }
func (v *ComplianceVerifier) Kind() Kind   { return KindCompliance }

// CriticalThreshold returns the magnitude at which an over-limit component
// is treated as a hard violation by the ensemble. Zero means "any negative
// component".
func (v *ComplianceVerifier) CriticalThreshold() float64 { return v.critical }

// Evaluate returns one non-positive component per configured feature.
func (v *ComplianceVerifier) Evaluate(_ context.Context, tr Transition) (map[string]float64, error) {
	components := make(map[string]float64, len(v.weights))
	for feature, weight := range v.weights {
		limit := v.thresholds["max_"+feature]
		value, err := Float(tr.NextState, feature)
		if err != nil {
			return nil, fmt.Errorf("verifier %q: %w", v.name, err)
		}
		if value <= limit {
			components[feature] = 0
			continue
		}
		excess := (value - limit) / math.Max(math.Abs(limit), 1)
		components[feature] = -weight * excess
	}
	return components, nil
}
