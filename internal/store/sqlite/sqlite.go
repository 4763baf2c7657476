// Package sqlite implements the observability EpisodeStore on SQLite. It is
// the delegated "external store": the core never persists data itself, and
// a host process that wants durable episode records wires this store into
// the pipeline.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/rubric/internal/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS reward_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    episode_id  TEXT NOT NULL,
    step_id     INTEGER NOT NULL,
    total       REAL NOT NULL,
    breakdown   TEXT NOT NULL,
    recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reward_logs_episode ON reward_logs(episode_id, step_id);

CREATE TABLE IF NOT EXISTS action_traces (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    episode_id   TEXT NOT NULL,
    step_id      INTEGER NOT NULL,
    before_state TEXT NOT NULL,
    action       TEXT NOT NULL,
    after_state  TEXT NOT NULL,
    info         TEXT NOT NULL DEFAULT '{}',
    recorded_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_traces_episode ON action_traces(episode_id, step_id);

CREATE TABLE IF NOT EXISTS audit_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type  TEXT NOT NULL,
    episode_id  TEXT NOT NULL,
    step_id     INTEGER NOT NULL,
    environment TEXT NOT NULL,
    message     TEXT NOT NULL,
    details     TEXT NOT NULL DEFAULT '{}',
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_episode ON audit_events(episode_id);

CREATE TABLE IF NOT EXISTS episode_metrics (
    episode_id            TEXT PRIMARY KEY,
    cumulative_reward     REAL NOT NULL,
    clinical_score        REAL NOT NULL,
    efficiency_score      REAL NOT NULL,
    financial_score       REAL NOT NULL,
    compliance_violations INTEGER NOT NULL,
    episode_length        INTEGER NOT NULL,
    finalized             INTEGER NOT NULL,
    started_at            TEXT NOT NULL,
    finalized_at          TEXT NOT NULL DEFAULT ''
);
`

// Store is a SQLite-backed EpisodeStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return New(db)
}

// New wraps an existing database handle and ensures the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init episode schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// AppendReward persists one reward record.
func (s *Store) AppendReward(rec observability.RewardRecord) error {
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO reward_logs (episode_id, step_id, total, breakdown, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.EpisodeID, rec.StepID, rec.Breakdown.Total, string(breakdown),
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// AppendTrace persists one action trace.
func (s *Store) AppendTrace(tr observability.ActionTrace) error {
	before, err := json.Marshal(tr.Before)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	action, err := json.Marshal(tr.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	after, err := json.Marshal(tr.After)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	info, err := json.Marshal(tr.Info)
	if err != nil {
		return fmt.Errorf("marshal transition info: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO action_traces (episode_id, step_id, before_state, action, after_state, info, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.EpisodeID, tr.StepID, string(before), string(action), string(after), string(info),
		tr.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// AppendAudit persists one audit event.
func (s *Store) AppendAudit(ev observability.AuditEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO audit_events (event_type, episode_id, step_id, environment, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Type, ev.EpisodeID, ev.StepID, ev.Environment, ev.Message, string(details),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SaveMetrics upserts the episode's metrics snapshot.
func (s *Store) SaveMetrics(m observability.EpisodeMetrics) error {
	finalized := 0
	if m.Finalized {
		finalized = 1
	}
	finalizedAt := ""
	if !m.FinalizedAt.IsZero() {
		finalizedAt = m.FinalizedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(`
		INSERT INTO episode_metrics
		(episode_id, cumulative_reward, clinical_score, efficiency_score,
		 financial_score, compliance_violations, episode_length, finalized,
		 started_at, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(episode_id) DO UPDATE SET
			cumulative_reward = excluded.cumulative_reward,
			clinical_score = excluded.clinical_score,
			efficiency_score = excluded.efficiency_score,
			financial_score = excluded.financial_score,
			compliance_violations = excluded.compliance_violations,
			episode_length = excluded.episode_length,
			finalized = excluded.finalized,
			finalized_at = excluded.finalized_at`,
		m.EpisodeID, m.CumulativeReward, m.ClinicalScore, m.EfficiencyScore,
		m.FinancialScore, m.ComplianceViolations, m.EpisodeLength, finalized,
		m.StartedAt.UTC().Format(time.RFC3339Nano), finalizedAt,
	)
	return err
}

// GetEpisode loads everything recorded for the episode, ordered by step.
func (s *Store) GetEpisode(episodeID string) (observability.EpisodeRecord, error) {
	rec := observability.EpisodeRecord{EpisodeID: episodeID}

	rewards, err := s.loadRewards(episodeID)
	if err != nil {
		return rec, err
	}
	traces, err := s.loadTraces(episodeID)
	if err != nil {
		return rec, err
	}
	audit, err := s.loadAudit(episodeID)
	if err != nil {
		return rec, err
	}
	metrics, found, err := s.loadMetrics(episodeID)
	if err != nil {
		return rec, err
	}

	if len(rewards) == 0 && len(traces) == 0 && len(audit) == 0 && !found {
		return rec, observability.ErrEpisodeNotFound
	}

	rec.Rewards = rewards
	rec.Traces = traces
	rec.Audit = audit
	rec.Metrics = metrics
	if !found {
		rec.Metrics = observability.EpisodeMetrics{EpisodeID: episodeID}
	}
	return rec, nil
}

func (s *Store) loadRewards(episodeID string) ([]observability.RewardRecord, error) {
	rows, err := s.db.Query(`
		SELECT step_id, breakdown, recorded_at
		FROM reward_logs WHERE episode_id = ? ORDER BY step_id`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []observability.RewardRecord
	for rows.Next() {
		var (
			rec          observability.RewardRecord
			breakdownRaw string
			recordedAt   string
		)
		if err := rows.Scan(&rec.StepID, &breakdownRaw, &recordedAt); err != nil {
			return nil, err
		}
		rec.EpisodeID = episodeID
		if err := json.Unmarshal([]byte(breakdownRaw), &rec.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown for step %d: %w", rec.StepID, err)
		}
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) loadTraces(episodeID string) ([]observability.ActionTrace, error) {
	rows, err := s.db.Query(`
		SELECT step_id, before_state, action, after_state, info, recorded_at
		FROM action_traces WHERE episode_id = ? ORDER BY step_id`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []observability.ActionTrace
	for rows.Next() {
		var (
			tr                          observability.ActionTrace
			before, action, after, info string
			recordedAt                  string
		)
		if err := rows.Scan(&tr.StepID, &before, &action, &after, &info, &recordedAt); err != nil {
			return nil, err
		}
		tr.EpisodeID = episodeID
		if err := json.Unmarshal([]byte(before), &tr.Before); err != nil {
			return nil, fmt.Errorf("decode before state for step %d: %w", tr.StepID, err)
		}
		if err := json.Unmarshal([]byte(action), &tr.Action); err != nil {
			return nil, fmt.Errorf("decode action for step %d: %w", tr.StepID, err)
		}
		if err := json.Unmarshal([]byte(after), &tr.After); err != nil {
			return nil, fmt.Errorf("decode after state for step %d: %w", tr.StepID, err)
		}
		if err := json.Unmarshal([]byte(info), &tr.Info); err != nil {
			return nil, fmt.Errorf("decode transition info for step %d: %w", tr.StepID, err)
		}
		tr.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *Store) loadAudit(episodeID string) ([]observability.AuditEvent, error) {
	rows, err := s.db.Query(`
		SELECT event_type, step_id, environment, message, details, timestamp
		FROM audit_events WHERE episode_id = ? ORDER BY id`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []observability.AuditEvent
	for rows.Next() {
		var (
			ev        observability.AuditEvent
			details   string
			timestamp string
		)
		if err := rows.Scan(&ev.Type, &ev.StepID, &ev.Environment, &ev.Message, &details, &timestamp); err != nil {
			return nil, err
		}
		ev.EpisodeID = episodeID
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) loadMetrics(episodeID string) (observability.EpisodeMetrics, bool, error) {
	var (
		m                      observability.EpisodeMetrics
		finalized              int
		startedAt, finalizedAt string
	)
	err := s.db.QueryRow(`
		SELECT episode_id, cumulative_reward, clinical_score, efficiency_score,
		       financial_score, compliance_violations, episode_length, finalized,
		       started_at, finalized_at
		FROM episode_metrics WHERE episode_id = ?`, episodeID).Scan(
		&m.EpisodeID, &m.CumulativeReward, &m.ClinicalScore, &m.EfficiencyScore,
		&m.FinancialScore, &m.ComplianceViolations, &m.EpisodeLength, &finalized,
		&startedAt, &finalizedAt,
	)
	if err == sql.ErrNoRows {
		return m, false, nil
	}
	if err != nil {
		return m, false, err
	}
	m.Finalized = finalized == 1
	m.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finalizedAt != "" {
		m.FinalizedAt, _ = time.Parse(time.RFC3339Nano, finalizedAt)
	}
	return m, true, nil
}

// Episodes lists every episode ID present in any table.
func (s *Store) Episodes() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT episode_id FROM episode_metrics
		UNION
		SELECT DISTINCT episode_id FROM action_traces
		ORDER BY episode_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
