// Package retention deletes stale, unbookmarked jobs.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
)

// ErrInvalidAge is returned for a non-positive age threshold.
var ErrInvalidAge = errors.New("max age must be at least one day")

// Store deletes jobs posted before cutoff, sparing bookmarked jobs and any
// row stored after startedAt.
type Store interface {
	DeleteStaleJobs(ctx context.Context, cutoff, startedAt time.Time) (int64, error)
}

// Sweeper runs retention passes.
type Sweeper struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// New returns a Sweeper. A nil clock uses time.Now.
func New(st Store, now func() time.Time, log *zap.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{store: st, now: now, logger: logger.OrNop(log).Named("retention")}
}

// Sweep deletes unbookmarked jobs posted more than maxAgeDays ago and returns
// how many were removed. The clock is read once per pass; jobs stored after
// that instant survive the pass even if their posting date is old. Running
// it again with no new data deletes nothing.
func (s *Sweeper) Sweep(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidAge, maxAgeDays)
	}
	startedAt := s.now().UTC()
	cutoff := startedAt.AddDate(0, 0, -maxAgeDays)

	deleted, err := s.store.DeleteStaleJobs(ctx, cutoff, startedAt)
	if err != nil {
		return 0, fmt.Errorf("delete stale jobs: %w", err)
	}

	s.logger.Info("retention sweep done",
		zap.Int64("deleted", deleted),
		zap.Int("max_age_days", maxAgeDays),
		zap.Time("cutoff", cutoff),
	)
	return deleted, nil
}
