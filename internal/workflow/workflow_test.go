package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueTriage() *Definition {
	return &Definition{
		Name:       "issue_triage",
		Steps:      []string{"get_issue", "get_transitions", "transition_issue"},
		BaseReward: 0.50,
	}
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr error
	}{
		{name: "valid", def: *issueTriage()},
		{name: "no steps", def: Definition{Name: "w"}, wantErr: ErrNoSteps},
		{name: "empty step", def: Definition{Name: "w", Steps: []string{"a", ""}}},
		{name: "negative base", def: Definition{Name: "w", Steps: []string{"a"}, BaseReward: -1}, wantErr: ErrNegativeBase},
		{name: "positive penalty", def: Definition{Name: "w", Steps: []string{"a"}, WrongStepPenalty: 0.1}, wantErr: ErrPositivePenalty},
		{name: "floor above penalty", def: Definition{Name: "w", Steps: []string{"a"}, WrongStepPenalty: -2, MinPenalty: -1}, wantErr: ErrPenaltyUnderFloor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.name == "empty step" {
				require.Error(t, err)
				return
			}
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDefinition_StepReward(t *testing.T) {
	def := issueTriage()
	def.StatusRewards = map[string]float64{"Done": 1.0}

	assert.Equal(t, 1.0, def.StepReward("Done"))
	// unknown and absent status labels fall back to the base reward alike
	assert.Equal(t, 0.50, def.StepReward("In Progress"))
	assert.Equal(t, 0.50, def.StepReward(""))
}

func TestDefinition_Penalty(t *testing.T) {
	def := issueTriage()
	assert.Equal(t, -0.50, def.Penalty())

	def.WrongStepPenalty = -0.25
	assert.Equal(t, -0.25, def.Penalty())

	def.WrongStepPenalty = -2.0
	def.MinPenalty = -1.0
	assert.Equal(t, -1.0, def.Penalty())
}

func TestValidator_HappyPath(t *testing.T) {
	v := NewValidator(issueTriage())

	rewards := make([]float64, 0, 3)
	for i := 0; i < 3; i++ {
		res := v.Apply(CorrectAction, "")
		rewards = append(rewards, res.Reward)
		assert.True(t, res.Advanced)
		assert.Equal(t, i+1, res.Position)
	}

	assert.Equal(t, []float64{0.50, 0.50, 0.50}, rewards)
	assert.True(t, v.Terminal())
	assert.Equal(t, 3, v.Position())
}

func TestValidator_WrongStepDoesNotAdvance(t *testing.T) {
	v := NewValidator(issueTriage())

	res := v.Apply(1, "")
	assert.True(t, res.WrongStep)
	assert.False(t, res.Advanced)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, -0.50, res.Reward)
	assert.Equal(t, "get_issue", res.Expected)
	assert.Equal(t, 1, v.WrongSteps())

	// three correct actions still needed to resolve
	for i := 0; i < 3; i++ {
		res = v.Apply(CorrectAction, "")
		assert.Equal(t, 0.50, res.Reward)
	}
	assert.True(t, res.Terminal)
	assert.Equal(t, 3, v.Position())
}

func TestValidator_IdempotentOnceTerminal(t *testing.T) {
	v := NewValidator(issueTriage())
	for i := 0; i < 3; i++ {
		v.Apply(CorrectAction, "")
	}
	require.True(t, v.Terminal())

	for i := 0; i < 5; i++ {
		res := v.Apply(CorrectAction, "")
		assert.True(t, res.Terminal)
		assert.Zero(t, res.Reward)
		assert.Equal(t, 3, res.Position)
	}
}

func TestValidator_Deterministic(t *testing.T) {
	sequence := []int{1, 0, 2, 0, 0, 0, 1}
	run := func() ([]float64, int) {
		v := NewValidator(issueTriage())
		rewards := make([]float64, 0, len(sequence))
		for _, a := range sequence {
			rewards = append(rewards, v.Apply(a, "").Reward)
		}
		return rewards, v.Position()
	}

	r1, p1 := run()
	r2, p2 := run()
	assert.Equal(t, r1, r2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 3, p1)
}

func TestValidator_StatusKeyedReward(t *testing.T) {
	def := issueTriage()
	def.StatusRewards = map[string]float64{"Resolved": 2.0}
	v := NewValidator(def)

	res := v.Apply(CorrectAction, "Resolved")
	assert.Equal(t, 2.0, res.Reward)

	res = v.Apply(CorrectAction, "Unknown Label")
	assert.Equal(t, 0.50, res.Reward)
}
