// Package episode drives one agent episode through the per-step control
// flow: governance check, environment execution, ensemble evaluation, and
// observability recording. The session owns step numbering and carries the
// hard-violation flag from one step's reward breakdown to the next step's
// governance check.
package episode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rubric/internal/governance"
	"github.com/fyrsmithlabs/rubric/internal/logging"
	"github.com/fyrsmithlabs/rubric/internal/observability"
	"github.com/fyrsmithlabs/rubric/internal/registry"
	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

// Session errors.
var (
	ErrEpisodeOver = errors.New("episode is over")
)

// Executor applies the effective action to the environment and returns the
// resulting state. The session never executes actions itself; the
// environment stays external.
type Executor func(ctx context.Context, action verifier.Action) (verifier.State, error)

// StepInput is everything the caller supplies for one step.
type StepInput struct {
	// State is the environment state before the action.
	State verifier.State
	// Action is the agent's proposed action; governance may substitute it.
	Action verifier.Action
	// RiskScore is the caller-computed risk of the proposed action.
	RiskScore float64
	// Status is the optional domain status label for status-keyed workflow
	// rewards.
	Status string
	// Info is merged into the step's action trace.
	Info map[string]any
}

// StepResult is the outcome of one step.
type StepResult struct {
	StepID int
	// Action is the action that actually ran (the proposal, an override, or
	// the no-op sentinel).
	Action verifier.Action
	// Blocked marks a governance hard stop. A blocked step is terminal and
	// non-rewarded; Breakdown is empty and Reward is zero.
	Blocked    bool
	Reward     float64
	Breakdown  *verifier.Breakdown
	Violations []governance.Violation
	NextState  verifier.State
}

// Session runs one episode for one environment. A session is used by one
// goroutine at a time; concurrent episodes each get their own session and
// never block each other.
type Session struct {
	mu sync.Mutex

	id       string
	env      *registry.Environment
	ensemble *verifier.Ensemble
	pipeline *observability.Pipeline
	log      *zap.Logger
	metrics  *observability.Metrics

	nextStep   int
	violations []governance.Violation

	// hardViolation holds the flag from the previous step's breakdown. It
	// gates the next step only; the rewarded step that raised it is already
	// logged and never changes.
	hardViolation bool

	terminal bool
	finished bool
}

// Option configures a session.
type Option func(*Session)

// WithEpisodeID sets the episode ID instead of minting one.
func WithEpisodeID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithLogger sets the session logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession starts an episode in the environment. The episode gets a fresh
// ensemble so workflow position never leaks between episodes, and the
// metrics tracker begins accumulating immediately.
func NewSession(env *registry.Environment, pipeline *observability.Pipeline, opts ...Option) (*Session, error) {
	s := &Session{
		env:      env,
		pipeline: pipeline,
		log:      zap.NewNop(),
		nextStep: observability.FirstStepID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}

	ensemble, err := env.NewEnsemble()
	if err != nil {
		return nil, fmt.Errorf("episode %s: %w", s.id, err)
	}
	s.ensemble = ensemble
	s.log = logging.ForEpisode(s.log, env.Name(), s.id)

	pipeline.Tracker().Begin(s.id)
	return s, nil
}

// ID returns the episode ID.
func (s *Session) ID() string { return s.id }

// Environment returns the environment name.
func (s *Session) Environment() string { return s.env.Name() }

// Violations returns a copy of the episode's violations so far.
func (s *Session) Violations() []governance.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]governance.Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

// Step runs one full step: governance check on the proposed action, exec of
// the effective action, ensemble evaluation of the transition, and recording
// across all four sinks. A blocked step skips exec and evaluation, records a
// zero-reward ledger entry, and marks the episode terminal; the caller must
// still call Finish to seal the metrics.
func (s *Session) Step(ctx context.Context, in StepInput, exec Executor) (*StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal || s.finished {
		return nil, fmt.Errorf("episode %s: %w", s.id, ErrEpisodeOver)
	}

	stepID := s.nextStep
	step := verifier.StepContext{
		EpisodeID:   s.id,
		StepID:      stepID,
		Environment: s.env.Name(),
		RiskScore:   in.RiskScore,
		Status:      in.Status,
	}

	decision := s.env.Gate().Check(ctx, governance.CheckContext{
		Step:            step,
		Action:          in.Action,
		PriorViolations: s.violations,
		HardViolation:   s.hardViolation,
	})
	s.hardViolation = false
	s.recordViolations(decision.Violations)

	if decision.Blocked {
		return s.blockedStep(step, in, decision), nil
	}

	next, err := exec(ctx, decision.Action)
	if err != nil {
		// The environment failed before producing a transition; the step
		// was not consumed and may be retried.
		return nil, fmt.Errorf("episode %s step %d: execute %q: %w", s.id, stepID, decision.Action.Name, err)
	}

	start := time.Now()
	breakdown, reports := s.ensemble.Evaluate(ctx, verifier.Transition{
		State:     in.State,
		Action:    decision.Action,
		NextState: next,
		Step:      step,
	})
	if s.metrics != nil {
		s.metrics.EvaluateDuration.WithLabelValues(s.env.Name()).Observe(time.Since(start).Seconds())
	}
	s.hardViolation = breakdown.HardViolation

	for _, report := range reports {
		if report.Err == nil {
			continue
		}
		s.log.Warn("verifier failed",
			zap.Int("step_id", stepID),
			zap.String("verifier", report.Name),
			zap.Error(report.Err))
		s.pipeline.RecordAudit(observability.AuditEvent{
			Type:        observability.EventVerifierError,
			EpisodeID:   s.id,
			StepID:      stepID,
			Environment: s.env.Name(),
			Message:     report.Err.Error(),
			Details:     map[string]any{"verifier": report.Name, "kind": string(report.Kind)},
		})
	}

	s.pipeline.RecordTrace(s.env.Name(), observability.ActionTrace{
		EpisodeID: s.id,
		StepID:    stepID,
		Before:    in.State,
		Action:    decision.Action,
		After:     next,
		Info:      in.Info,
	})
	s.pipeline.RecordReward(s.env.Name(), observability.RewardRecord{
		EpisodeID: s.id,
		StepID:    stepID,
		Breakdown: *breakdown,
	})
	s.pipeline.UpdateMetrics(s.env.Name(), s.id, breakdown.Total, kindScores(reports), len(decision.Violations))

	s.log.Debug("step recorded",
		zap.Int("step_id", stepID),
		zap.String("action", decision.Action.Name),
		zap.Float64("reward", breakdown.Total),
		zap.Bool("hard_violation", breakdown.HardViolation))

	s.nextStep++
	return &StepResult{
		StepID:     stepID,
		Action:     decision.Action,
		Reward:     breakdown.Total,
		Breakdown:  breakdown,
		Violations: decision.Violations,
		NextState:  next,
	}, nil
}

// blockedStep records a governance hard stop as a terminal, non-rewarded
// ledger entry. Trace and reward are both written so the episode still
// replays exactly.
func (s *Session) blockedStep(step verifier.StepContext, in StepInput, decision governance.Decision) *StepResult {
	s.terminal = true

	info := map[string]any{"blocked": true}
	for k, v := range in.Info {
		info[k] = v
	}
	s.pipeline.RecordTrace(s.env.Name(), observability.ActionTrace{
		EpisodeID: s.id,
		StepID:    step.StepID,
		Before:    in.State,
		Action:    decision.Action,
		After:     in.State,
		Info:      info,
	})
	s.pipeline.RecordReward(s.env.Name(), observability.RewardRecord{
		EpisodeID: s.id,
		StepID:    step.StepID,
		Breakdown: verifier.Breakdown{Components: map[string]float64{}},
	})
	s.pipeline.UpdateMetrics(s.env.Name(), s.id, 0, nil, len(decision.Violations))
	s.pipeline.RecordAudit(observability.AuditEvent{
		Type:        observability.EventGovernanceBlocked,
		EpisodeID:   s.id,
		StepID:      step.StepID,
		Environment: s.env.Name(),
		Message:     fmt.Sprintf("proposed action %q blocked; substituted %q", in.Action.Name, decision.Action.Name),
		Details:     map[string]any{"proposed": in.Action.Name, "effective": decision.Action.Name},
	})
	if s.metrics != nil {
		s.metrics.HardStopsTotal.WithLabelValues(s.env.Name()).Inc()
	}
	s.log.Warn("governance hard stop",
		zap.Int("step_id", step.StepID),
		zap.String("proposed", in.Action.Name),
		zap.String("effective", decision.Action.Name))

	s.nextStep++
	return &StepResult{
		StepID:     step.StepID,
		Action:     decision.Action,
		Blocked:    true,
		Breakdown:  &verifier.Breakdown{Components: map[string]float64{}},
		Violations: decision.Violations,
		NextState:  in.State,
	}
}

// recordViolations appends new violations to the episode list, the audit
// trail, and the severity counter.
func (s *Session) recordViolations(violations []governance.Violation) {
	for _, v := range violations {
		s.violations = append(s.violations, v)
		s.pipeline.RecordAudit(observability.AuditEvent{
			Type:        observability.EventComplianceBreach,
			EpisodeID:   v.EpisodeID,
			StepID:      v.StepID,
			Environment: s.env.Name(),
			Message:     v.Message,
			Details:     map[string]any{"rule": v.Rule, "severity": string(v.Severity)},
		})
		if s.metrics != nil {
			s.metrics.ViolationsTotal.WithLabelValues(string(v.Severity)).Inc()
		}
	}
}

// Finish seals the episode's metrics. Valid after any number of steps,
// including zero and including a hard stop; a second Finish is a protocol
// violation surfaced as an error.
func (s *Session) Finish() (observability.EpisodeMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return observability.EpisodeMetrics{}, fmt.Errorf("episode %s: %w", s.id, ErrEpisodeOver)
	}
	m, err := s.pipeline.Finalize(s.env.Name(), s.id)
	if err != nil {
		return m, err
	}
	s.finished = true
	s.log.Info("episode finished",
		zap.Int("steps", m.EpisodeLength),
		zap.Float64("cumulative_reward", m.CumulativeReward),
		zap.Int("violations", m.ComplianceViolations))
	return m, nil
}

// kindScores folds member reports into the per-kind score keys the metrics
// tracker accumulates. Compliance and workflow members affect the cumulative
// reward only.
func kindScores(reports []verifier.MemberReport) map[string]float64 {
	scores := make(map[string]float64, 3)
	for _, r := range reports {
		if r.Err != nil {
			continue
		}
		sum := 0.0
		for _, v := range r.Components {
			sum += r.Weight * v
		}
		switch r.Kind {
		case verifier.KindClinical:
			scores[observability.ScoreClinical] += sum
		case verifier.KindOperational:
			scores[observability.ScoreEfficiency] += sum
		case verifier.KindFinancial:
			scores[observability.ScoreFinancial] += sum
		}
	}
	return scores
}
