package workflow

import (
	"context"

	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

// SequenceVerifier adapts a workflow validator to the verifier interface so
// scripted workflows can participate in an ensemble. It is stateful per
// episode: the registry constructs a fresh instance for every session.
type SequenceVerifier struct {
	name      string
	validator *Validator
}

// NewSequenceVerifier wraps a fresh validator over the definition.
func NewSequenceVerifier(name string, def *Definition) *SequenceVerifier {
	return &SequenceVerifier{name: name, validator: NewValidator(def)}
}

func (s *SequenceVerifier) Name() string        { return s.name }
func (s *SequenceVerifier) Kind() verifier.Kind { return verifier.KindWorkflow }

// Validator exposes the underlying per-episode state for callers that need
// the position or terminal flag.
func (s *SequenceVerifier) Validator() *Validator { return s.validator }

// Evaluate applies the transition's action index and reports the sequence
// reward as a single component. Wrong steps and termination are surfaced as
// extra zero-valued components so the breakdown records them without
// changing the total.
func (s *SequenceVerifier) Evaluate(_ context.Context, tr verifier.Transition) (map[string]float64, error) {
	res := s.validator.Apply(tr.Action.Index, tr.Step.Status)

	components := map[string]float64{"sequence": res.Reward}
	if res.WrongStep {
		components["wrong_step"] = 0
	}
	if res.Terminal {
		components["resolved"] = 0
	}
	return components, nil
}
