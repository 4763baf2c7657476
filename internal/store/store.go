// Package store builds the configured episode store backing the
// observability pipeline.
package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rubric/internal/config"
	"github.com/fyrsmithlabs/rubric/internal/observability"
	"github.com/fyrsmithlabs/rubric/internal/store/sqlite"
)

// Open builds the episode store the configuration selects, wrapping it in
// an async decorator when a buffer is configured. The returned close
// function flushes pending writes before releasing the underlying store.
func Open(cfg config.StoreConfig, log *zap.Logger, metrics *observability.Metrics) (observability.EpisodeStore, func() error, error) {
	var (
		inner observability.EpisodeStore
		done  func() error
	)
	switch cfg.Driver {
	case "", "memory":
		inner = observability.NewMemoryStore()
		done = func() error { return nil }
	case "sqlite":
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		inner = s
		done = s.Close
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if cfg.AsyncBuffer <= 0 {
		return inner, done, nil
	}

	async := observability.NewAsyncStore(inner, cfg.AsyncBuffer, log, metrics)
	return async, func() error {
		async.Close()
		return done()
	}, nil
}
