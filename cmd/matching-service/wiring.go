package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/config"
	"jobmate/matching-service/internal/credentials"
	"jobmate/matching-service/internal/db"
	"jobmate/matching-service/internal/encoder"
	"jobmate/matching-service/internal/llm"
	"jobmate/matching-service/internal/profiles"
	"jobmate/matching-service/internal/ranker"
	"jobmate/matching-service/internal/retention"
	"jobmate/matching-service/internal/scheduler"
	"jobmate/matching-service/internal/scraper"
	"jobmate/matching-service/internal/store"
)

// services is the fully wired component graph shared by every subcommand.
type services struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client // nil when REDIS_URL is unset
	store *store.Postgres

	enc       *encoder.Encoder
	embedKeys *credentials.Rotator // nil for the hashing provider
	llmKeys   *credentials.Rotator // nil when no LLM key is configured

	ingester *scraper.Ingester
	ranker   *ranker.Ranker
	sweeper  *retention.Sweeper
	profiles *profiles.Service
	llm      *llm.Client
}

// connect migrates the schema, opens storage and wires every component.
func connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*services, error) {
	// ── PostgreSQL ──────────────────────────────────────────────────────────
	log.Info("applying migrations")
	if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("connecting to PostgreSQL")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	st := store.NewPostgres(pool, cfg.StorageTimeout)
	if err := st.CheckDimension(ctx, cfg.Embedding.Dimension); err != nil {
		pool.Close()
		return nil, err
	}

	// ── Redis ───────────────────────────────────────────────────────────────
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	if rdb == nil {
		log.Warn("REDIS_URL not set, cycle lock and events disabled")
	}

	s := &services{pool: pool, rdb: rdb, store: st}

	// ── Encoder ─────────────────────────────────────────────────────────────
	if err := s.wireEncoder(cfg, log); err != nil {
		s.Close()
		return nil, err
	}

	// ── LLM relay ───────────────────────────────────────────────────────────
	if len(cfg.LLM.APIKeys) > 0 {
		s.llmKeys, err = credentials.New(cfg.LLM.APIKeys,
			credentials.WithName("llm"),
			credentials.WithCooldown(cfg.Credentials.Cooldown),
			credentials.WithLogger(log),
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("llm credentials: %w", err)
		}
		s.llm = llm.New(cfg.LLM.BaseURL, cfg.LLM.Model, s.llmKeys, log)
	} else {
		log.Warn("no LLM API key configured, assistant relay disabled")
	}

	// ── Domain services ─────────────────────────────────────────────────────
	source := scraper.NewAdzunaSource(cfg.Scrape.AdzunaAppID, cfg.Scrape.AdzunaAppKey, cfg.Scrape.AdzunaCountry, log)
	s.ingester = scraper.NewIngester(st, s.enc, source, scraper.Options{ExcludeTerms: cfg.Scrape.ExcludeTerms}, log)
	s.ranker = ranker.New(st, cfg.Ranking.CandidateFloor, cfg.Ranking.CandidateMultiplier, log, ranker.WithQueryEncoder(s.enc))
	s.sweeper = retention.New(st, nil, log)
	s.profiles = profiles.NewService(st, s.enc, log)

	return s, nil
}

func (s *services) wireEncoder(cfg *config.Config, log *zap.Logger) error {
	e := cfg.Embedding

	var load encoder.Loader
	switch e.Provider {
	case config.ProviderOpenAI, config.ProviderGemini:
		keys := e.APIKeys
		if len(keys) == 0 {
			// Self-hosted OpenAI-compatible servers accept an empty key.
			keys = []string{""}
		}
		rot, err := credentials.New(keys,
			credentials.WithName("embedding"),
			credentials.WithCooldown(cfg.Credentials.Cooldown),
			credentials.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("embedding credentials: %w", err)
		}
		s.embedKeys = rot
		if e.Provider == config.ProviderGemini {
			load = encoder.GeminiLoader(e.ModelName, e.Dimension, rot)
		} else {
			load = encoder.OpenAILoader(e.BaseURL, e.ModelName, e.UseGPU, rot)
		}
	default:
		load = encoder.HashingLoader(e.Dimension)
	}

	text := encoder.NewTextBuilder(encoder.Thresholds{
		Narrative:  cfg.Text.Narrative,
		Credential: cfg.Text.Credential,
		Category:   cfg.Text.Category,
	})
	s.enc = encoder.New(load, text, encoder.Options{
		Provider:   e.Provider,
		ModelName:  e.ModelName,
		Dimension:  e.Dimension,
		BatchSize:  e.BatchSize,
		MaxRetries: e.MaxRetries,
		Workers:    e.Workers,
		Timeout:    e.Timeout,
	}, log)
	return nil
}

// rotators lists the configured credential pools for the stats route.
// scheduler owns the ingest lock. Manual ingests go through it as well.
func (s *services) scheduler(cfg *config.Config, log *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(s.rdb, s.store, s.ingester, s.sweeper, scheduler.Config{
		Spec:          cfg.Scrape.Schedule,
		Location:      cfg.Scrape.Location,
		PerTerm:       cfg.Scrape.PerTerm,
		MaxTerms:      cfg.Scrape.MaxTerms,
		RetentionDays: cfg.Retention.Days,
	}, log)
}

func (s *services) rotators() []*credentials.Rotator {
	var out []*credentials.Rotator
	for _, r := range []*credentials.Rotator{s.embedKeys, s.llmKeys} {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Close releases Redis and the pool.
func (s *services) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	s.pool.Close()
}
