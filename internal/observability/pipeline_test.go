package observability

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

func reward(episode string, step int, total float64) RewardRecord {
	return RewardRecord{
		EpisodeID: episode,
		StepID:    step,
		Breakdown: verifier.Breakdown{
			Components: map[string]float64{"clinical_stability": total},
			Total:      total,
		},
	}
}

func trace(episode string, step int) ActionTrace {
	return ActionTrace{
		EpisodeID: episode,
		StepID:    step,
		Before:    verifier.State{"queue_depth": step},
		Action:    verifier.Action{Name: "advance"},
		After:     verifier.State{"queue_depth": step - 1},
	}
}

func TestRewardLogger_StepOrdering(t *testing.T) {
	l := NewRewardLogger(NewMemoryStore())

	require.NoError(t, l.Record(reward("ep", 1, 0.5)))
	require.NoError(t, l.Record(reward("ep", 2, 0.5)))

	// repeat
	err := l.Record(reward("ep", 2, 0.5))
	require.ErrorIs(t, err, ErrStepOrder)

	// gap
	err = l.Record(reward("ep", 5, 0.5))
	require.ErrorIs(t, err, ErrStepOrder)

	// an unrelated episode starts at step 1 independently
	require.NoError(t, l.Record(reward("other", 1, 0.1)))
}

func TestTraceLogger_FirstStepMustBeOne(t *testing.T) {
	l := NewTraceLogger(NewMemoryStore())
	require.ErrorIs(t, l.Record(trace("ep", 2)), ErrStepOrder)
	require.NoError(t, l.Record(trace("ep", 1)))
}

func TestMetricsTracker_UpdateAndFinalize(t *testing.T) {
	store := NewMemoryStore()
	tr := NewMetricsTracker(store)

	require.ErrorIs(t, tr.Update("ep", 1, nil, 0), ErrUnknownEpisode)

	tr.Begin("ep")
	require.NoError(t, tr.Update("ep", 0.5, map[string]float64{ScoreClinical: 0.3, ScoreFinancial: -0.1}, 1))
	require.NoError(t, tr.Update("ep", 0.25, map[string]float64{ScoreEfficiency: 0.2}, 0))

	m, err := tr.Finalize("ep")
	require.NoError(t, err)
	assert.True(t, m.Finalized)
	assert.InDelta(t, 0.75, m.CumulativeReward, 1e-9)
	assert.InDelta(t, 0.3, m.ClinicalScore, 1e-9)
	assert.InDelta(t, 0.2, m.EfficiencyScore, 1e-9)
	assert.InDelta(t, -0.1, m.FinancialScore, 1e-9)
	assert.Equal(t, 1, m.ComplianceViolations)
	assert.Equal(t, 2, m.EpisodeLength)

	// sealed: further updates and finalizes are protocol violations
	require.ErrorIs(t, tr.Update("ep", 1, nil, 0), ErrFinalized)
	_, err = tr.Finalize("ep")
	require.ErrorIs(t, err, ErrFinalized)

	// sealed metrics persisted
	rec, err := store.GetEpisode("ep")
	require.NoError(t, err)
	assert.True(t, rec.Metrics.Finalized)
}

func TestMetricsTracker_PartialEpisodeFinalizes(t *testing.T) {
	tr := NewMetricsTracker(NewMemoryStore())
	tr.Begin("aborted")
	require.NoError(t, tr.Update("aborted", 0.5, nil, 0))

	m, err := tr.Finalize("aborted")
	require.NoError(t, err)
	assert.Equal(t, 1, m.EpisodeLength)
}

func TestPipeline_ProtocolViolationDegradesToAudit(t *testing.T) {
	store := NewMemoryStore()
	p := NewPipeline(store)
	p.Tracker().Begin("ep")

	p.RecordReward("env", reward("ep", 1, 0.5))
	// out-of-order write must not crash; it becomes a critical audit event
	p.RecordReward("env", reward("ep", 3, 0.5))

	rec, err := store.GetEpisode("ep")
	require.NoError(t, err)
	require.Len(t, rec.Rewards, 1)
	require.Len(t, rec.Audit, 1)
	assert.Equal(t, EventProtocolViolation, rec.Audit[0].Type)
	assert.Equal(t, "critical", rec.Audit[0].Details["severity"])
}

func TestPipeline_GetEpisodePrefersLiveMetrics(t *testing.T) {
	store := NewMemoryStore()
	p := NewPipeline(store)
	p.Tracker().Begin("ep")

	p.RecordTrace("env", trace("ep", 1))
	p.RecordReward("env", reward("ep", 1, 0.5))
	p.UpdateMetrics("env", "ep", 0.5, nil, 0)

	rec, err := p.GetEpisode("ep")
	require.NoError(t, err)
	assert.False(t, rec.Metrics.Finalized)
	assert.InDelta(t, 0.5, rec.Metrics.CumulativeReward, 1e-9)

	_, err = p.Finalize("env", "ep")
	require.NoError(t, err)

	rec, err = p.GetEpisode("ep")
	require.NoError(t, err)
	assert.True(t, rec.Metrics.Finalized)
}

func TestReplay_MatchesSealedMetrics(t *testing.T) {
	store := NewMemoryStore()
	p := NewPipeline(store)
	p.Tracker().Begin("ep")

	rewards := []float64{0.5, -0.25, 1.0, 0.125}
	for i, r := range rewards {
		step := i + 1
		p.RecordTrace("env", trace("ep", step))
		p.RecordReward("env", reward("ep", step, r))
		p.UpdateMetrics("env", "ep", r, nil, 0)
	}
	_, err := p.Finalize("env", "ep")
	require.NoError(t, err)

	rec, err := p.GetEpisode("ep")
	require.NoError(t, err)

	total, err := Replay(rec)
	require.NoError(t, err)
	assert.InDelta(t, 1.375, total, 1e-9)
	require.NoError(t, VerifyReplay(rec, 1e-9))
}

func TestReplay_MissingRewardRecord(t *testing.T) {
	rec := EpisodeRecord{
		EpisodeID: "ep",
		Traces:    []ActionTrace{trace("ep", 1)},
	}
	_, err := Replay(rec)
	require.Error(t, err)
}

func TestPipeline_ConcurrentEpisodesIsolated(t *testing.T) {
	const (
		episodes = 100
		steps    = 50
	)

	store := NewMemoryStore()
	p := NewPipeline(store)

	var wg sync.WaitGroup
	for e := 0; e < episodes; e++ {
		episodeID := fmt.Sprintf("ep-%03d", e)
		p.Tracker().Begin(episodeID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := 1; s <= steps; s++ {
				p.RecordTrace("env", trace(episodeID, s))
				p.RecordReward("env", reward(episodeID, s, 0.5))
				p.UpdateMetrics("env", episodeID, 0.5, nil, 0)
			}
			_, err := p.Finalize("env", episodeID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for e := 0; e < episodes; e++ {
		episodeID := fmt.Sprintf("ep-%03d", e)
		rec, err := p.GetEpisode(episodeID)
		require.NoError(t, err)
		require.Len(t, rec.Traces, steps)
		require.Len(t, rec.Rewards, steps)
		for i, tr := range rec.Traces {
			assert.Equal(t, episodeID, tr.EpisodeID)
			assert.Equal(t, i+1, tr.StepID)
		}
		assert.Equal(t, steps, rec.Metrics.EpisodeLength)
		require.NoError(t, VerifyReplay(rec, 1e-9))
	}
}

func TestAsyncStore_FlushAndClose(t *testing.T) {
	inner := NewMemoryStore()
	s := NewAsyncStore(inner, 16, nil, nil)

	for i := 1; i <= 10; i++ {
		require.NoError(t, s.AppendTrace(trace("ep", i)))
	}
	s.Flush()

	rec, err := inner.GetEpisode("ep")
	require.NoError(t, err)
	assert.Len(t, rec.Traces, 10)

	s.Close()
	// writes after close fall back to synchronous
	require.NoError(t, s.AppendTrace(trace("ep", 11)))
	rec, err = inner.GetEpisode("ep")
	require.NoError(t, err)
	assert.Len(t, rec.Traces, 11)
}

func TestMemoryStore_GetEpisodeNotFound(t *testing.T) {
	_, err := NewMemoryStore().GetEpisode("nope")
	require.ErrorIs(t, err, ErrEpisodeNotFound)
}
