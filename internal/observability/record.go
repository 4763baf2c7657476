// Package observability records every step and episode so that a human or
// downstream system can reconstruct why a given reward was produced. Four
// independent sinks share only the episode ID: reward logs, action traces,
// episode metrics, and the audit trail. All per-step records are append-only
// ledger entries; episode metrics are the one entity mutated in place until
// the episode is sealed.
package observability

import (
	"time"

	"github.com/fyrsmithlabs/rubric/internal/verifier"
)

// Audit event types emitted by the core.
const (
	EventVerifierError     = "verifier_error"
	EventProtocolViolation = "protocol_violation"
	EventGovernanceBlocked = "governance_blocked"
	EventComplianceBreach  = "compliance_violation"
	EventEpisodeFinalized  = "episode_finalized"
)

// RewardRecord is one step's logged reward breakdown.
type RewardRecord struct {
	EpisodeID  string             `json:"episode_id"`
	StepID     int                `json:"step_id"`
	Breakdown  verifier.Breakdown `json:"breakdown"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// ActionTrace is the write-once record of one state transition. The ordered
// trace sequence for an episode, joined with its reward records on step ID,
// replays to the sealed episode metrics.
type ActionTrace struct {
	EpisodeID  string          `json:"episode_id"`
	StepID     int             `json:"step_id"`
	Before     verifier.State  `json:"before_state"`
	Action     verifier.Action `json:"action"`
	After      verifier.State  `json:"after_state"`
	Info       map[string]any  `json:"transition_info,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// AuditEvent is an append-only audit trail entry. It is never deleted or
// edited; timestamps increase monotonically within an episode.
type AuditEvent struct {
	Type        string         `json:"event_type"`
	EpisodeID   string         `json:"episode_id"`
	StepID      int            `json:"step_id"`
	Environment string         `json:"environment_name"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// EpisodeMetrics aggregates one episode. Monotonically updated until the
// episode is finalized, then immutable.
type EpisodeMetrics struct {
	EpisodeID            string    `json:"episode_id"`
	CumulativeReward     float64   `json:"cumulative_reward"`
	ClinicalScore        float64   `json:"clinical_score"`
	EfficiencyScore      float64   `json:"efficiency_score"`
	FinancialScore       float64   `json:"financial_score"`
	ComplianceViolations int       `json:"compliance_violations"`
	EpisodeLength        int       `json:"episode_length"`
	Finalized            bool      `json:"finalized"`
	StartedAt            time.Time `json:"started_at"`
	FinalizedAt          time.Time `json:"finalized_at,omitempty"`
}

// Score keys accepted by the metrics tracker's per-kind accumulation.
const (
	ScoreClinical   = "clinical"
	ScoreEfficiency = "efficiency"
	ScoreFinancial  = "financial"
)

// EpisodeRecord is the retrieval contract: everything recorded for one
// episode, with metrics sealed or partial.
type EpisodeRecord struct {
	EpisodeID string         `json:"episode_id"`
	Traces    []ActionTrace  `json:"traces"`
	Rewards   []RewardRecord `json:"rewards"`
	Metrics   EpisodeMetrics `json:"metrics"`
	Audit     []AuditEvent   `json:"audit_events"`
}
