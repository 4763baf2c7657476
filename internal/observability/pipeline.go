package observability

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Pipeline bundles the four sinks over one store and applies the error
// policy from the step's point of view: protocol violations degrade to
// critical audit events, sink failures go to the fallback logger, and
// nothing recorded here ever fails the step's reward or governance result.
type Pipeline struct {
	rewards *RewardLogger
	traces  *TraceLogger
	tracker *MetricsTracker
	audit   *AuditLogger
	store   EpisodeStore
	log     *zap.Logger
	metrics *Metrics
}

// Option configures a pipeline.
type Option func(*Pipeline)

// WithLogger sets the fallback logger for sink failures.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline builds a pipeline over the store.
func NewPipeline(store EpisodeStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		rewards: NewRewardLogger(store),
		traces:  NewTraceLogger(store),
		tracker: NewMetricsTracker(store),
		audit:   NewAuditLogger(store),
		store:   store,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tracker exposes the metrics tracker for Begin/Finalize lifecycle calls.
func (p *Pipeline) Tracker() *MetricsTracker { return p.tracker }

// RecordReward records a step's breakdown, degrading protocol violations to
// a critical audit event.
func (p *Pipeline) RecordReward(environment string, rec RewardRecord) {
	p.sink("rewards", environment, rec.EpisodeID, rec.StepID, p.rewards.Record(rec))
}

// RecordTrace records a step's action trace.
func (p *Pipeline) RecordTrace(environment string, tr ActionTrace) {
	p.sink("traces", environment, tr.EpisodeID, tr.StepID, p.traces.Record(tr))
}

// RecordAudit records an audit event, best effort.
func (p *Pipeline) RecordAudit(ev AuditEvent) {
	if err := p.audit.Record(ev); err != nil {
		p.log.Warn("audit record failed",
			zap.String("episode_id", ev.EpisodeID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.SinkErrorsTotal.WithLabelValues("audit").Inc()
		}
	}
}

// UpdateMetrics folds a step into the episode accumulator, degrading
// update-after-finalize to a critical audit event.
func (p *Pipeline) UpdateMetrics(environment, episodeID string, stepReward float64, componentScores map[string]float64, violationCount int) {
	err := p.tracker.Update(episodeID, stepReward, componentScores, violationCount)
	if err == nil {
		if p.metrics != nil {
			p.metrics.StepsRecordedTotal.WithLabelValues(environment).Inc()
		}
		return
	}
	p.protocolViolation("metrics", environment, episodeID, 0, err)
}

// Finalize seals the episode's metrics; partial episodes are valid.
func (p *Pipeline) Finalize(environment, episodeID string) (EpisodeMetrics, error) {
	m, err := p.tracker.Finalize(episodeID)
	if err != nil {
		if errors.Is(err, ErrFinalized) {
			p.protocolViolation("metrics", environment, episodeID, 0, err)
		}
		return m, err
	}
	p.rewards.guard.forget(episodeID)
	p.traces.guard.forget(episodeID)
	if p.metrics != nil {
		p.metrics.EpisodesFinalizedTotal.Inc()
	}
	p.RecordAudit(AuditEvent{
		Type:        EventEpisodeFinalized,
		EpisodeID:   episodeID,
		StepID:      m.EpisodeLength,
		Environment: environment,
		Message:     fmt.Sprintf("episode sealed after %d steps", m.EpisodeLength),
		Details: map[string]any{
			"cumulative_reward":     m.CumulativeReward,
			"compliance_violations": m.ComplianceViolations,
		},
	})
	return m, nil
}

// GetEpisode is the retrieval contract used by human-review tooling and
// tests: all traces, all reward logs, sealed-or-partial metrics, and the
// audit trail.
func (p *Pipeline) GetEpisode(episodeID string) (EpisodeRecord, error) {
	rec, err := p.store.GetEpisode(episodeID)
	if err != nil {
		return rec, err
	}
	// prefer the live accumulator over the stored snapshot while the
	// episode is still running
	if snapshot, serr := p.tracker.Snapshot(episodeID); serr == nil {
		rec.Metrics = snapshot
	}
	return rec, nil
}

func (p *Pipeline) sink(sink, environment, episodeID string, stepID int, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrStepOrder) {
		p.protocolViolation(sink, environment, episodeID, stepID, err)
		return
	}
	p.log.Warn("sink write failed",
		zap.String("sink", sink),
		zap.String("episode_id", episodeID),
		zap.Int("step_id", stepID),
		zap.Error(err))
	if p.metrics != nil {
		p.metrics.SinkErrorsTotal.WithLabelValues(sink).Inc()
	}
}

// protocolViolation handles programmer errors: loud in logs, recorded as a
// critical audit event, never a crash of the training run.
func (p *Pipeline) protocolViolation(sink, environment, episodeID string, stepID int, err error) {
	p.log.Error("observability protocol violation",
		zap.String("sink", sink),
		zap.String("episode_id", episodeID),
		zap.Int("step_id", stepID),
		zap.Error(err))
	p.RecordAudit(AuditEvent{
		Type:        EventProtocolViolation,
		EpisodeID:   episodeID,
		StepID:      stepID,
		Environment: environment,
		Message:     err.Error(),
		Details:     map[string]any{"sink": sink, "severity": "critical"},
	})
}

// Replay re-derives the cumulative reward from an episode's ordered traces
// and their associated reward records. It returns an error when a trace has
// no matching reward record; callers compare the result against the sealed
// metrics to verify ledger integrity.
func Replay(rec EpisodeRecord) (float64, error) {
	rewards := make(map[int]float64, len(rec.Rewards))
	for _, r := range rec.Rewards {
		rewards[r.StepID] = r.Breakdown.Total
	}
	total := 0.0
	for _, tr := range rec.Traces {
		reward, ok := rewards[tr.StepID]
		if !ok {
			return 0, fmt.Errorf("episode %s: trace step %d has no reward record", rec.EpisodeID, tr.StepID)
		}
		total += reward
	}
	return total, nil
}

// VerifyReplay checks the replayed cumulative reward against the sealed (or
// partial) metrics within epsilon.
func VerifyReplay(rec EpisodeRecord, epsilon float64) error {
	total, err := Replay(rec)
	if err != nil {
		return err
	}
	if diff := math.Abs(total - rec.Metrics.CumulativeReward); diff > epsilon {
		return fmt.Errorf("episode %s: replayed reward %.9f differs from recorded %.9f",
			rec.EpisodeID, total, rec.Metrics.CumulativeReward)
	}
	return nil
}
