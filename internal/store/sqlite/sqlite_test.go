package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rubric/internal/observability"
	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "episodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.AppendReward(observability.RewardRecord{
		EpisodeID: "ep-1",
		StepID:    1,
		Breakdown: verifier.Breakdown{
			Components: map[string]float64{"clinical_stability": 0.5},
			Total:      0.5,
		},
		RecordedAt: now,
	}))
	require.NoError(t, s.AppendTrace(observability.ActionTrace{
		EpisodeID:  "ep-1",
		StepID:     1,
		Before:     verifier.State{"queue_depth": 3.0},
		Action:     verifier.Action{Name: "advance", Index: 0},
		After:      verifier.State{"queue_depth": 2.0},
		Info:       map[string]any{"blocked": false},
		RecordedAt: now,
	}))
	require.NoError(t, s.AppendAudit(observability.AuditEvent{
		Type:        observability.EventEpisodeFinalized,
		EpisodeID:   "ep-1",
		StepID:      1,
		Environment: "hospital_ops",
		Message:     "sealed",
		Details:     map[string]any{"cumulative_reward": 0.5},
		Timestamp:   now,
	}))
	require.NoError(t, s.SaveMetrics(observability.EpisodeMetrics{
		EpisodeID:        "ep-1",
		CumulativeReward: 0.5,
		EpisodeLength:    1,
		Finalized:        true,
		StartedAt:        now,
		FinalizedAt:      now,
	}))

	rec, err := s.GetEpisode("ep-1")
	require.NoError(t, err)

	require.Len(t, rec.Rewards, 1)
	assert.InDelta(t, 0.5, rec.Rewards[0].Breakdown.Total, 1e-9)
	assert.InDelta(t, 0.5, rec.Rewards[0].Breakdown.Components["clinical_stability"], 1e-9)

	require.Len(t, rec.Traces, 1)
	assert.Equal(t, "advance", rec.Traces[0].Action.Name)
	assert.InDelta(t, 3.0, rec.Traces[0].Before["queue_depth"].(float64), 1e-9)

	require.Len(t, rec.Audit, 1)
	assert.Equal(t, observability.EventEpisodeFinalized, rec.Audit[0].Type)

	assert.True(t, rec.Metrics.Finalized)
	assert.InDelta(t, 0.5, rec.Metrics.CumulativeReward, 1e-9)
}

func TestStore_OrderedByStep(t *testing.T) {
	s := openTestStore(t)
	for _, step := range []int{1, 2, 3} {
		require.NoError(t, s.AppendReward(observability.RewardRecord{
			EpisodeID:  "ep",
			StepID:     step,
			Breakdown:  verifier.Breakdown{Total: float64(step)},
			RecordedAt: time.Now(),
		}))
	}

	rec, err := s.GetEpisode("ep")
	require.NoError(t, err)
	require.Len(t, rec.Rewards, 3)
	for i, r := range rec.Rewards {
		assert.Equal(t, i+1, r.StepID)
	}
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetEpisode("missing")
	require.ErrorIs(t, err, observability.ErrEpisodeNotFound)
}

func TestStore_WorksBehindPipeline(t *testing.T) {
	s := openTestStore(t)
	p := observability.NewPipeline(s)
	p.Tracker().Begin("ep")

	for step := 1; step <= 3; step++ {
		p.RecordTrace("env", observability.ActionTrace{
			EpisodeID: "ep", StepID: step,
			Action: verifier.Action{Name: "advance"},
		})
		p.RecordReward("env", observability.RewardRecord{
			EpisodeID: "ep", StepID: step,
			Breakdown: verifier.Breakdown{Total: 0.5},
		})
		p.UpdateMetrics("env", "ep", 0.5, nil, 0)
	}
	_, err := p.Finalize("env", "ep")
	require.NoError(t, err)

	rec, err := s.GetEpisode("ep")
	require.NoError(t, err)
	require.NoError(t, observability.VerifyReplay(rec, 1e-9))
}

func TestStore_Episodes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveMetrics(observability.EpisodeMetrics{EpisodeID: "b"}))
	require.NoError(t, s.AppendTrace(observability.ActionTrace{EpisodeID: "a", StepID: 1}))

	ids, err := s.Episodes()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
