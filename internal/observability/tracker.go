package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Tracker errors.
var (
	ErrFinalized      = errors.New("episode already finalized")
	ErrUnknownEpisode = errors.New("episode not tracked")
)

// MetricsTracker accumulates per-episode metrics until the episode is
// finalized. Updates for different episodes never block each other; updates
// for the same episode are serialized so that a protocol violation cannot
// corrupt state.
type MetricsTracker struct {
	store    EpisodeStore
	episodes sync.Map // episodeID -> *episodeAccumulator
}

type episodeAccumulator struct {
	mu      sync.Mutex
	metrics EpisodeMetrics
}

// NewMetricsTracker builds a tracker that seals finalized metrics into the
// store.
func NewMetricsTracker(store EpisodeStore) *MetricsTracker {
	return &MetricsTracker{store: store}
}

// Begin starts tracking an episode. Idempotent.
func (t *MetricsTracker) Begin(episodeID string) {
	t.episodes.LoadOrStore(episodeID, &episodeAccumulator{
		metrics: EpisodeMetrics{EpisodeID: episodeID, StartedAt: time.Now().UTC()},
	})
}

// Update folds one step into the episode's accumulator. componentScores is
// keyed by score kind (clinical, efficiency, financial); unknown keys are
// ignored. Updating a finalized episode is a protocol violation.
func (t *MetricsTracker) Update(episodeID string, stepReward float64, componentScores map[string]float64, violationCount int) error {
	v, ok := t.episodes.Load(episodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEpisode, episodeID)
	}
	acc := v.(*episodeAccumulator)

	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.metrics.Finalized {
		return fmt.Errorf("%w: %s", ErrFinalized, episodeID)
	}

	acc.metrics.CumulativeReward += stepReward
	acc.metrics.ClinicalScore += componentScores[ScoreClinical]
	acc.metrics.EfficiencyScore += componentScores[ScoreEfficiency]
	acc.metrics.FinancialScore += componentScores[ScoreFinancial]
	acc.metrics.ComplianceViolations += violationCount
	acc.metrics.EpisodeLength++
	return nil
}

// Snapshot returns the episode's current metrics, sealed or partial.
func (t *MetricsTracker) Snapshot(episodeID string) (EpisodeMetrics, error) {
	v, ok := t.episodes.Load(episodeID)
	if !ok {
		return EpisodeMetrics{}, fmt.Errorf("%w: %s", ErrUnknownEpisode, episodeID)
	}
	acc := v.(*episodeAccumulator)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.metrics, nil
}

// Finalize seals the episode and persists the metrics. Partial episodes
// (aborts, hard stops) are valid; Finalize must be callable exactly once
// with whatever data exists. A second Finalize returns ErrFinalized.
func (t *MetricsTracker) Finalize(episodeID string) (EpisodeMetrics, error) {
	v, ok := t.episodes.Load(episodeID)
	if !ok {
		return EpisodeMetrics{}, fmt.Errorf("%w: %s", ErrUnknownEpisode, episodeID)
	}
	acc := v.(*episodeAccumulator)

	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.metrics.Finalized {
		return acc.metrics, fmt.Errorf("%w: %s", ErrFinalized, episodeID)
	}
	acc.metrics.Finalized = true
	acc.metrics.FinalizedAt = time.Now().UTC()

	if err := t.store.SaveMetrics(acc.metrics); err != nil {
		return acc.metrics, fmt.Errorf("persist metrics for %s: %w", episodeID, err)
	}
	return acc.metrics, nil
}
