package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStepOrder is returned when a sink observes a step ID that is not
// exactly one greater than the previous one for the same episode. A gap or
// repeat is a caller bug: fail loud in tests, degrade to a critical audit
// event in production (the pipeline handles that).
var ErrStepOrder = errors.New("step id out of order")

// FirstStepID is the step ID of an episode's first step.
const FirstStepID = 1

// stepGuard enforces strictly-increasing-by-one step IDs per episode.
// Entries for different episodes never contend on the same lock.
type stepGuard struct {
	episodes sync.Map // episodeID -> *episodeCursor
}

type episodeCursor struct {
	mu   sync.Mutex
	last int
}

func (g *stepGuard) check(episodeID string, stepID int) error {
	v, _ := g.episodes.LoadOrStore(episodeID, &episodeCursor{})
	cursor := v.(*episodeCursor)

	cursor.mu.Lock()
	defer cursor.mu.Unlock()
	if stepID != cursor.last+1 {
		return fmt.Errorf("%w: episode %s expected step %d, got %d",
			ErrStepOrder, episodeID, cursor.last+1, stepID)
	}
	cursor.last = stepID
	return nil
}

func (g *stepGuard) forget(episodeID string) {
	g.episodes.Delete(episodeID)
}

// RewardLogger is the append-only reward sink.
type RewardLogger struct {
	store EpisodeStore
	guard stepGuard
}

// NewRewardLogger builds a reward logger over the store.
func NewRewardLogger(store EpisodeStore) *RewardLogger {
	return &RewardLogger{store: store}
}

// Record appends one step's breakdown. Calls for different episodes may
// interleave freely; within one episode step IDs must increase by one.
func (l *RewardLogger) Record(rec RewardRecord) error {
	if err := l.guard.check(rec.EpisodeID, rec.StepID); err != nil {
		return err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	return l.store.AppendReward(rec)
}

// TraceLogger is the append-only action trace sink.
type TraceLogger struct {
	store EpisodeStore
	guard stepGuard
}

// NewTraceLogger builds a trace logger over the store.
func NewTraceLogger(store EpisodeStore) *TraceLogger {
	return &TraceLogger{store: store}
}

// Record appends one write-once action trace.
func (l *TraceLogger) Record(tr ActionTrace) error {
	if err := l.guard.check(tr.EpisodeID, tr.StepID); err != nil {
		return err
	}
	if tr.RecordedAt.IsZero() {
		tr.RecordedAt = time.Now().UTC()
	}
	return l.store.AppendTrace(tr)
}

// AuditLogger is the best-effort audit sink: failure to record an audit
// event must never fail the step, so Record reports the error for the
// caller's fallback logging but the pipeline treats it as non-fatal.
type AuditLogger struct {
	store EpisodeStore
}

// NewAuditLogger builds an audit logger over the store.
func NewAuditLogger(store EpisodeStore) *AuditLogger {
	return &AuditLogger{store: store}
}

// Record appends one audit event.
func (l *AuditLogger) Record(ev AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return l.store.AppendAudit(ev)
}
