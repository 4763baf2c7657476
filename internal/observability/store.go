package observability

import (
	"errors"
	"sort"
	"sync"
)

// Store errors.
var (
	ErrEpisodeNotFound = errors.New("episode not found")
)

// EpisodeStore is the persistence boundary. The core never persists data
// itself; sinks delegate to a store, which may be in-memory or backed by an
// external database.
type EpisodeStore interface {
	AppendReward(rec RewardRecord) error
	AppendTrace(tr ActionTrace) error
	AppendAudit(ev AuditEvent) error
	SaveMetrics(m EpisodeMetrics) error
	GetEpisode(episodeID string) (EpisodeRecord, error)
}

// MemoryStore keeps episode records in process memory. Safe for concurrent
// use across episodes.
type MemoryStore struct {
	mu       sync.RWMutex
	episodes map[string]*EpisodeRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{episodes: make(map[string]*EpisodeRecord)}
}

func (s *MemoryStore) episode(id string) *EpisodeRecord {
	rec, ok := s.episodes[id]
	if !ok {
		rec = &EpisodeRecord{EpisodeID: id}
		s.episodes[id] = rec
	}
	return rec
}

// AppendReward appends a reward record to its episode.
func (s *MemoryStore) AppendReward(rec RewardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.episode(rec.EpisodeID)
	ep.Rewards = append(ep.Rewards, rec)
	return nil
}

// AppendTrace appends an action trace to its episode.
func (s *MemoryStore) AppendTrace(tr ActionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.episode(tr.EpisodeID)
	ep.Traces = append(ep.Traces, tr)
	return nil
}

// AppendAudit appends an audit event to its episode.
func (s *MemoryStore) AppendAudit(ev AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.episode(ev.EpisodeID)
	ep.Audit = append(ep.Audit, ev)
	return nil
}

// SaveMetrics stores the episode's metrics snapshot.
func (s *MemoryStore) SaveMetrics(m EpisodeMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.episode(m.EpisodeID)
	ep.Metrics = m
	return nil
}

// GetEpisode returns a copy of everything recorded for the episode, with
// per-step records ordered by step ID.
func (s *MemoryStore) GetEpisode(episodeID string) (EpisodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.episodes[episodeID]
	if !ok {
		return EpisodeRecord{}, ErrEpisodeNotFound
	}

	out := EpisodeRecord{
		EpisodeID: ep.EpisodeID,
		Traces:    append([]ActionTrace(nil), ep.Traces...),
		Rewards:   append([]RewardRecord(nil), ep.Rewards...),
		Metrics:   ep.Metrics,
		Audit:     append([]AuditEvent(nil), ep.Audit...),
	}
	sort.SliceStable(out.Traces, func(i, j int) bool { return out.Traces[i].StepID < out.Traces[j].StepID })
	sort.SliceStable(out.Rewards, func(i, j int) bool { return out.Rewards[i].StepID < out.Rewards[j].StepID })
	return out, nil
}

// Episodes returns the IDs of every stored episode.
func (s *MemoryStore) Episodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.episodes))
	for id := range s.episodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
