package workflow

// Validator tracks one episode's progress through a workflow definition.
// Positions run 0..len(Steps); the final position is terminal. Action index
// zero performs the currently expected step and advances; any other index
// is a recoverable wrong step that does not advance. The validator contains
// no randomness: an identical action sequence over an identical definition
// always produces an identical reward sequence.
//
// A Validator is single-episode state and is not safe for concurrent use;
// episodes are strictly sequential by protocol.
type Validator struct {
	def        *Definition
	position   int
	wrongSteps int
}

// CorrectAction is the discrete action index meaning "perform the step
// currently expected at the present position".
const CorrectAction = 0

// StepResult is the outcome of applying one action to the validator.
type StepResult struct {
	Reward    float64 `json:"reward"`
	Position  int     `json:"position"`
	Advanced  bool    `json:"advanced"`
	WrongStep bool    `json:"wrong_step"`
	Terminal  bool    `json:"terminal"`
	// Expected names the step that was (or still is) expected when the
	// action was applied; empty once terminal.
	Expected string `json:"expected,omitempty"`
}

// NewValidator starts a validator at position zero. The definition must
// already be validated.
func NewValidator(def *Definition) *Validator {
	return &Validator{def: def}
}

// Position returns the current position.
func (v *Validator) Position() int { return v.position }

// WrongSteps returns how many wrong-step actions have been applied.
func (v *Validator) WrongSteps() int { return v.wrongSteps }

// Terminal reports whether the workflow is complete.
func (v *Validator) Terminal() bool { return v.position >= len(v.def.Steps) }

// Apply scores one action. status is the optional domain status label for
// the status-keyed reward table. Once terminal, Apply is idempotent: the
// position no longer changes and no further reward is paid. No step budget
// is enforced here; the surrounding episode governs termination.
func (v *Validator) Apply(actionIndex int, status string) StepResult {
	if v.Terminal() {
		return StepResult{Position: v.position, Terminal: true}
	}

	expected := v.def.Steps[v.position]
	if actionIndex != CorrectAction {
		v.wrongSteps++
		return StepResult{
			Reward:    v.def.Penalty(),
			Position:  v.position,
			WrongStep: true,
			Expected:  expected,
		}
	}

	v.position++
	return StepResult{
		Reward:   v.def.StepReward(status),
		Position: v.position,
		Advanced: true,
		Terminal: v.Terminal(),
		Expected: expected,
	}
}
