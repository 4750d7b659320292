package core

// janitor.go sweeps what crashed sessions leave behind.
//
// The session cleaner runs on every exit path of a live process, but a
// killed process never reaches it. The janitor periodically drops staging
// relations whose namespace timestamp is older than MaxAge and removes
// uploaded files of the same age. MaxAge must exceed the session timeout
// so running sessions are never touched.

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-faster/errors"
)

// JanitorConfig controls the staging janitor.
type JanitorConfig struct {
	Interval time.Duration // How often to sweep (default: 15m)
	MaxAge   time.Duration // Age after which leftovers are removed (default: 1h)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = time.Hour
	}
	return c
}

// StartStagingJanitor sweeps immediately, then every Interval, until ctx
// is cancelled. Run it in its own goroutine.
func (s *Service) StartStagingJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	slog.Info("staging janitor started",
		"interval", cfg.Interval.String(),
		"max_age", cfg.MaxAge.String(),
	)

	s.runSweep(ctx, cfg.MaxAge)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("staging janitor stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx, cfg.MaxAge)
		}
	}
}

// RunSweep performs one sweep pass and returns the number of staging pairs
// and files removed.
func (s *Service) RunSweep(ctx context.Context, maxAge time.Duration) (relations, files int, err error) {
	relations, err = s.SweepStaging(ctx, maxAge)
	if err != nil {
		return relations, 0, err
	}
	if s.uploads != nil {
		files, err = s.uploads.SweepOlderThan(maxAge)
		if err != nil {
			return relations, files, errors.Wrap(err, "sweep uploads")
		}
	}
	return relations, files, nil
}

func (s *Service) runSweep(ctx context.Context, maxAge time.Duration) {
	start := time.Now()
	relations, files, err := s.RunSweep(ctx, maxAge)
	if err != nil {
		slog.Error("staging sweep failed", "error", err)
		return
	}
	if relations > 0 || files > 0 {
		slog.Info("staging sweep removed leftovers",
			"staging_pairs", relations,
			"files", files,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// SweepStaging drops staging pairs older than maxAge in every schema and
// returns how many namespaces were dropped.
func (s *Service) SweepStaging(ctx context.Context, maxAge time.Duration) (int, error) {
	const sql = `SELECT DISTINCT schemaname, substring(tablename from '^(temp_[0-9]{14}_[0-9a-f]{8})_(source|target)$')
		FROM pg_tables
		WHERE tablename ~ '^temp_[0-9]{14}_[0-9a-f]{8}_(source|target)$'`

	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return 0, errors.Wrap(err, "list staging relations")
	}
	var stale []Staging
	cutoff := s.now().UTC().Add(-maxAge)
	for rows.Next() {
		var st Staging
		if err := rows.Scan(&st.Schema, &st.Namespace); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan staging relation")
		}
		if created, ok := namespaceTime(st.Namespace); ok && created.Before(cutoff) {
			stale = append(stale, st)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "list staging relations")
	}

	dropped := 0
	for _, st := range stale {
		if err := s.stager.DropStagingRelations(ctx, st); err != nil {
			slog.Warn("could not drop stale staging", "schema", st.Schema, "namespace", st.Namespace, "error", err)
			continue
		}
		dropped++
		s.metrics.SweptRelations.Inc()
	}
	return dropped, nil
}
