// Package scheduler wires up the cron job that periodically ingests jobs for
// the current student population and then sweeps stale ones.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/scraper"
)

// Redis channels and keys.
const (
	EventJobsIngested = "EVENT_JOBS_INGESTED"
	EventJobsSwept    = "EVENT_JOBS_SWEPT"

	lockKey        = "matching:cycle:lock"
	defaultLockTTL = 30 * time.Minute
)

// ErrCycleInProgress is returned when another cycle holds the lock, in this
// process or another replica.
var ErrCycleInProgress = errors.New("ingest cycle already in progress")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ProfileSource lists the profiles search terms are derived from.
type ProfileSource interface {
	CompletedProfiles(ctx context.Context) ([]model.Profile, error)
}

// Ingester runs a batch ingest.
type Ingester interface {
	IngestAll(ctx context.Context, terms []string, location string, perTerm int) (scraper.Stats, error)
}

// Sweeper runs a retention pass.
type Sweeper interface {
	Sweep(ctx context.Context, maxAgeDays int) (int64, error)
}

// Config controls what one cycle does.
type Config struct {
	Spec          string // cron spec, e.g. "@every 12h"
	Location      string
	PerTerm       int
	MaxTerms      int
	RetentionDays int
	LockTTL       time.Duration
}

// CycleResult summarises one ingest + sweep cycle.
type CycleResult struct {
	Terms   []string      `json:"terms"`
	Ingest  scraper.Stats `json:"ingest"`
	Deleted int64         `json:"deleted"`
}

// Scheduler wraps robfig/cron and manages the ingest loop.
type Scheduler struct {
	cron     *cron.Cron
	rdb      *redis.Client // nil disables the lock and events
	profiles ProfileSource
	ingester Ingester
	sweeper  Sweeper
	cfg      Config
	logger   *zap.Logger

	running atomic.Bool
}

// New creates a Scheduler. rdb may be nil.
func New(rdb *redis.Client, profiles ProfileSource, ingester Ingester, sweeper Sweeper, cfg Config, log *zap.Logger) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	log = logger.OrNop(log).Named("scheduler")
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		rdb:      rdb,
		profiles: profiles,
		ingester: ingester,
		sweeper:  sweeper,
		cfg:      cfg,
		logger:   log,
	}
}

// Start registers the job and starts the scheduler. Also runs one cycle
// immediately so the feed is populated without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Spec, func() {
		s.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron started", zap.String("spec", s.cfg.Spec))

	// Run immediately on startup (non-blocking)
	go s.run(ctx)

	return nil
}

// Stop shuts down the scheduler and waits for a running cron job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			s.logger.Info("cycle skipped, another one is running")
			return
		}
		s.logger.Error("cycle failed", zap.Error(err))
	}
}

// RunCycle derives search terms from completed profiles, ingests them, and
// sweeps jobs older than the retention window. Only one cycle runs at a time
// across all replicas sharing rdb.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.logger.Info("cycle started")

	// ── Terms ──────────────────────────────────────────
	profiles, err := s.profiles.CompletedProfiles(ctx)
	if err != nil {
		s.logger.Warn("loading profiles failed, using default terms", zap.Error(err))
		profiles = nil
	}
	res := &CycleResult{Terms: scraper.SearchTerms(profiles, s.cfg.MaxTerms)}

	// ── Ingest ─────────────────────────────────────────
	res.Ingest, err = s.ingest(ctx, res.Terms, s.cfg.Location, s.cfg.PerTerm)
	if err != nil {
		return res, err
	}

	// ── Sweep ──────────────────────────────────────────
	res.Deleted, err = s.sweeper.Sweep(ctx, s.cfg.RetentionDays)
	if err != nil {
		return res, fmt.Errorf("sweep: %w", err)
	}
	s.publish(ctx, EventJobsSwept, map[string]any{
		"type":          EventJobsSwept,
		"deleted":       res.Deleted,
		"retentionDays": s.cfg.RetentionDays,
	})

	s.logger.Info("cycle complete",
		zap.Int("terms", len(res.Terms)),
		zap.Int("saved", res.Ingest.TotalSaved),
		zap.Int64("deleted", res.Deleted),
	)
	return res, nil
}

// IngestAll runs one batch ingest outside the schedule, under the same lock
// as RunCycle. Manual runs and cycles never overlap, so two ingests cannot
// race on the same natural key.
func (s *Scheduler) IngestAll(ctx context.Context, terms []string, location string, perTerm int) (scraper.Stats, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return scraper.Stats{}, err
	}
	defer release()
	return s.ingest(ctx, terms, location, perTerm)
}

func (s *Scheduler) ingest(ctx context.Context, terms []string, location string, perTerm int) (scraper.Stats, error) {
	stats, err := s.ingester.IngestAll(ctx, terms, location, perTerm)
	if err != nil {
		return stats, fmt.Errorf("ingest: %w", err)
	}
	s.publish(ctx, EventJobsIngested, map[string]any{
		"type":        EventJobsIngested,
		"terms":       len(terms),
		"scraped":     stats.TotalScraped,
		"saved":       stats.TotalSaved,
		"duplicates":  stats.TotalDuplicates,
		"filtered":    stats.TotalFiltered,
		"failedTerms": stats.FailedTerms,
	})
	return stats, nil
}

// acquire takes the in-process flag and then the cross-replica lock. The
// returned func releases both.
func (s *Scheduler) acquire(ctx context.Context) (func(), error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	release, err := s.lock(ctx)
	if err != nil {
		s.running.Store(false)
		return nil, err
	}
	return func() {
		release()
		s.running.Store(false)
	}, nil
}

// lock takes the cross-replica cycle lock. The returned func releases it.
func (s *Scheduler) lock(ctx context.Context) (func(), error) {
	if s.rdb == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey, token, s.cfg.LockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, ErrCycleInProgress
	}
	return func() {
		// The cycle context may already be cancelled at this point.
		if err := releaseScript.Run(context.WithoutCancel(ctx), s.rdb, []string{lockKey}, token).Err(); err != nil {
			s.logger.Warn("release cycle lock failed", zap.Error(err))
		}
	}, nil
}

// publish is best-effort: a failure is logged and the cycle carries on.
func (s *Scheduler) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.rdb == nil {
		return
	}
	event, _ := json.Marshal(payload)
	if err := s.rdb.Publish(ctx, channel, event).Err(); err != nil {
		s.logger.Warn("publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...any) { c.l.Debugw(msg, keysAndValues...) }

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
