package observability

import (
	"sync"

	"go.uber.org/zap"
)

// AsyncStore decorates an EpisodeStore so that appends are queued and
// flushed by a background worker. Reward computation latency is thereby
// decoupled from log persistence latency. Writes that fail in the worker
// are logged to the fallback logger and dropped; they never propagate to
// the step's result. When the queue is full the write degrades to a
// synchronous call rather than losing the record.
type AsyncStore struct {
	inner   EpisodeStore
	log     *zap.Logger
	metrics *Metrics

	mu     sync.RWMutex
	queue  chan func()
	closed bool
	done   chan struct{}
}

// NewAsyncStore starts the background worker. buffer is the queue capacity.
func NewAsyncStore(inner EpisodeStore, buffer int, log *zap.Logger, metrics *Metrics) *AsyncStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AsyncStore{
		inner:   inner,
		queue:   make(chan func(), buffer),
		log:     log,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncStore) run() {
	for op := range s.queue {
		op()
		if s.metrics != nil {
			s.metrics.AsyncQueueDepth.Set(float64(len(s.queue)))
		}
	}
	close(s.done)
}

func (s *AsyncStore) enqueue(sink string, op func() error) error {
	wrapped := func() {
		if err := op(); err != nil {
			s.log.Warn("async store write failed",
				zap.String("sink", sink), zap.Error(err))
			if s.metrics != nil {
				s.metrics.SinkErrorsTotal.WithLabelValues(sink).Inc()
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return op()
	}
	select {
	case s.queue <- wrapped:
		if s.metrics != nil {
			s.metrics.AsyncQueueDepth.Set(float64(len(s.queue)))
		}
		return nil
	default:
		// queue full: write inline instead of dropping the record
		return op()
	}
}

// AppendReward queues a reward append.
func (s *AsyncStore) AppendReward(rec RewardRecord) error {
	return s.enqueue("rewards", func() error { return s.inner.AppendReward(rec) })
}

// AppendTrace queues a trace append.
func (s *AsyncStore) AppendTrace(tr ActionTrace) error {
	return s.enqueue("traces", func() error { return s.inner.AppendTrace(tr) })
}

// AppendAudit queues an audit append.
func (s *AsyncStore) AppendAudit(ev AuditEvent) error {
	return s.enqueue("audit", func() error { return s.inner.AppendAudit(ev) })
}

// SaveMetrics writes through synchronously; sealing an episode is rare and
// callers expect the sealed record to be durable on return.
func (s *AsyncStore) SaveMetrics(m EpisodeMetrics) error {
	s.Flush()
	return s.inner.SaveMetrics(m)
}

// GetEpisode flushes pending writes and reads from the inner store.
func (s *AsyncStore) GetEpisode(episodeID string) (EpisodeRecord, error) {
	s.Flush()
	return s.inner.GetEpisode(episodeID)
}

// Flush blocks until every write queued before the call has been applied.
func (s *AsyncStore) Flush() {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	flushed := make(chan struct{})
	s.queue <- func() { close(flushed) }
	s.mu.RUnlock()
	<-flushed
}

// Close flushes and stops the worker.
func (s *AsyncStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}
