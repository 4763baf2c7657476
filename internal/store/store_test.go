package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rubric/internal/config"
	"github.com/fyrsmithlabs/rubric/internal/observability"
	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

func TestOpen_Memory(t *testing.T) {
	s, closer, err := Open(config.StoreConfig{Driver: "memory"}, nil, nil)
	require.NoError(t, err)
	defer closer()

	require.NoError(t, s.AppendTrace(observability.ActionTrace{EpisodeID: "ep", StepID: 1}))
	rec, err := s.GetEpisode("ep")
	require.NoError(t, err)
	assert.Len(t, rec.Traces, 1)
}

func TestOpen_Sqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.db")
	s, closer, err := Open(config.StoreConfig{Driver: "sqlite", Path: path}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.AppendReward(observability.RewardRecord{
		EpisodeID: "ep", StepID: 1,
		Breakdown: verifier.Breakdown{Total: 0.5},
	}))
	require.NoError(t, closer())
}

func TestOpen_AsyncWrap(t *testing.T) {
	s, closer, err := Open(config.StoreConfig{Driver: "memory", AsyncBuffer: 16}, nil, nil)
	require.NoError(t, err)

	for step := 1; step <= 10; step++ {
		require.NoError(t, s.AppendReward(observability.RewardRecord{
			EpisodeID: "ep", StepID: step,
			Breakdown: verifier.Breakdown{Total: 0.1},
		}))
	}
	// GetEpisode flushes the queue before reading
	rec, err := s.GetEpisode("ep")
	require.NoError(t, err)
	assert.Len(t, rec.Rewards, 10)
	require.NoError(t, closer())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(config.StoreConfig{Driver: "postgres"}, nil, nil)
	require.Error(t, err)
}
