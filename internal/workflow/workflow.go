// Package workflow models scripted, tool-call-style workflows as strict
// linear step sequences and scores agent actions against them.
package workflow

import (
	"errors"
	"fmt"
)

// Errors for workflow definition validation.
var (
	ErrNoSteps           = errors.New("workflow has no steps")
	ErrNegativeBase      = errors.New("base reward must be >= 0")
	ErrPositivePenalty   = errors.New("wrong-step penalty must be <= 0")
	ErrPenaltyUnderFloor = errors.New("minimum penalty must be <= wrong-step penalty")
)

// Definition is the static configuration for one workflow type: the ordered
// expected steps and the reward table. Loaded once at startup and shared
// read-only across episodes.
type Definition struct {
	Name  string   `koanf:"name" json:"name"`
	Steps []string `koanf:"steps" json:"steps"`

	// BaseReward is paid for a correct step when no status-keyed entry
	// applies.
	BaseReward float64 `koanf:"base_reward" json:"base_reward"`

	// WrongStepPenalty is the reward for an incorrect step. Zero means
	// "negate the base reward".
	WrongStepPenalty float64 `koanf:"wrong_step_penalty" json:"wrong_step_penalty"`

	// MinPenalty floors the wrong-step penalty. Zero means no floor.
	MinPenalty float64 `koanf:"min_penalty" json:"min_penalty"`

	// StatusRewards maps a domain status label to a reward, preferred over
	// BaseReward when the step context carries a matching label. An unknown
	// label and an absent label both fall back to BaseReward.
	StatusRewards map[string]float64 `koanf:"status_rewards" json:"status_rewards,omitempty"`
}

// Validate checks the definition at load time.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q: %w", d.Name, ErrNoSteps)
	}
	for i, step := range d.Steps {
		if step == "" {
			return fmt.Errorf("workflow %q: step %d is empty", d.Name, i)
		}
	}
	if d.BaseReward < 0 {
		return fmt.Errorf("workflow %q: %w", d.Name, ErrNegativeBase)
	}
	if d.WrongStepPenalty > 0 {
		return fmt.Errorf("workflow %q: %w", d.Name, ErrPositivePenalty)
	}
	if d.MinPenalty != 0 && d.WrongStepPenalty != 0 && d.MinPenalty > d.WrongStepPenalty {
		return fmt.Errorf("workflow %q: %w", d.Name, ErrPenaltyUnderFloor)
	}
	return nil
}

// StepReward returns the reward for a correct step under the given status
// label, preferring the status-keyed table.
func (d *Definition) StepReward(status string) float64 {
	if status != "" {
		if r, ok := d.StatusRewards[status]; ok {
			return r
		}
	}
	return d.BaseReward
}

// Penalty returns the reward for a wrong step: the configured penalty, or
// the negated base reward when unset, floored at MinPenalty.
func (d *Definition) Penalty() float64 {
	p := d.WrongStepPenalty
	if p == 0 {
		p = -d.BaseReward
	}
	if d.MinPenalty != 0 && p < d.MinPenalty {
		p = d.MinPenalty
	}
	return p
}
