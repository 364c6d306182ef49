package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/encoder"
	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
)

// JobStore is the storage the ingester writes to.
type JobStore interface {
	JobExists(ctx context.Context, key model.IngestKey) (bool, error)
	InsertJobIfAbsent(ctx context.Context, job *model.Job) (id string, inserted bool, err error)
}

// Encoder attaches vectors to new jobs.
type Encoder interface {
	Encode(ctx context.Context, rec encoder.Record) (model.Vector, error)
	ModelName() string
}

// Outcome is the result of ingesting one posting. None of them is an error.
type Outcome int

const (
	Saved Outcome = iota + 1
	Duplicate
	Filtered
)

func (o Outcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case Duplicate:
		return "duplicate"
	case Filtered:
		return "filtered"
	}
	return "unknown"
}

// Result describes one ingested posting. JobID is set only for Saved;
// Embedded is false when the job was stored without a vector.
type Result struct {
	Outcome  Outcome
	JobID    string
	Embedded bool
}

// Ingester normalises raw postings, drops duplicates by natural key and
// stores new jobs with a vector when one can be computed.
type Ingester struct {
	store   JobStore
	enc     Encoder
	source  Source
	exclude []string
	now     func() time.Time
	logger  *zap.Logger
}

// Options tune an Ingester.
type Options struct {
	ExcludeTerms []string
	Now          func() time.Time
}

// NewIngester returns an Ingester. source may be nil when only Ingest is used.
func NewIngester(store JobStore, enc Encoder, source Source, opts Options, log *zap.Logger) *Ingester {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ingester{
		store:   store,
		enc:     enc,
		source:  source,
		exclude: opts.ExcludeTerms,
		now:     opts.Now,
		logger:  logger.OrNop(log).Named("ingest"),
	}
}

// Ingest stores raw unless a job with the same (title, company, location)
// exists. An encoder failure is logged and the job is stored without a
// vector. Storage errors are returned.
func (in *Ingester) Ingest(ctx context.Context, raw model.RawJob) (Result, error) {
	job := Normalize(raw, in.now().UTC())

	// ── Exclusion filter ───────────────────────────────
	if ContainsExcludedTerm(job.Title, job.Company, job.Description, in.exclude) {
		return Result{Outcome: Filtered}, nil
	}

	// ── Dedup pre-check (skips the encode for known jobs) ──
	exists, err := in.store.JobExists(ctx, job.Key())
	if err != nil {
		return Result{}, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return Result{Outcome: Duplicate}, nil
	}

	// ── Vector (degrades to null) ──────────────────────
	vec, err := in.enc.Encode(ctx, encoder.JobRecord(&job))
	if err != nil {
		in.logger.Warn("encoding failed, storing job without vector",
			zap.String("title", logger.Truncate(job.Title, 80)),
			zap.String("company", job.Company),
			zap.Error(err),
		)
	} else {
		generated := in.now().UTC()
		job.Vector = vec
		job.EmbeddingModel = in.enc.ModelName()
		job.EmbeddingGeneratedAt = &generated
	}

	// ── Insert (a concurrent ingest may have won) ──────
	id, inserted, err := in.store.InsertJobIfAbsent(ctx, &job)
	if err != nil {
		return Result{}, fmt.Errorf("store job: %w", err)
	}
	if !inserted {
		return Result{Outcome: Duplicate}, nil
	}
	return Result{Outcome: Saved, JobID: id, Embedded: job.Vector != nil}, nil
}

// TermStats counts one search term's results. Error is set when the source
// failed for the term.
type TermStats struct {
	Term       string `json:"term"`
	Scraped    int    `json:"scraped"`
	Saved      int    `json:"saved"`
	Duplicates int    `json:"duplicates"`
	Filtered   int    `json:"filtered"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// Stats summarises a batch run. ByTerm follows the order terms were given.
type Stats struct {
	TotalScraped    int         `json:"total_scraped"`
	TotalSaved      int         `json:"total_saved"`
	TotalDuplicates int         `json:"total_duplicates"`
	TotalFiltered   int         `json:"total_filtered"`
	TotalFailed     int         `json:"total_failed"`
	FailedTerms     int         `json:"failed_terms"`
	ByTerm          []TermStats `json:"by_term"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
}

// IngestAll searches each term in order, one at a time, and ingests the
// results. A failing term is recorded in its TermStats and the run moves on.
// Only cancellation of ctx stops the run early.
func (in *Ingester) IngestAll(ctx context.Context, terms []string, location string, perTerm int) (Stats, error) {
	stats := Stats{StartedAt: in.now().UTC(), ByTerm: make([]TermStats, 0, len(terms))}
	in.logger.Info("ingest run started",
		zap.Int("terms", len(terms)),
		zap.String("location", location),
		zap.Int("per_term", perTerm),
	)

	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			stats.FinishedAt = in.now().UTC()
			return stats, err
		}

		ts := in.ingestTerm(ctx, term, location, perTerm)
		stats.ByTerm = append(stats.ByTerm, ts)
		stats.TotalScraped += ts.Scraped
		stats.TotalSaved += ts.Saved
		stats.TotalDuplicates += ts.Duplicates
		stats.TotalFiltered += ts.Filtered
		stats.TotalFailed += ts.Failed
		if ts.Error != "" {
			stats.FailedTerms++
		}
	}

	stats.FinishedAt = in.now().UTC()
	in.logger.Info("ingest run finished",
		zap.Int("scraped", stats.TotalScraped),
		zap.Int("saved", stats.TotalSaved),
		zap.Int("duplicates", stats.TotalDuplicates),
		zap.Int("filtered", stats.TotalFiltered),
		zap.Int("failed", stats.TotalFailed),
		zap.Int("failed_terms", stats.FailedTerms),
	)
	return stats, nil
}

func (in *Ingester) ingestTerm(ctx context.Context, term, location string, perTerm int) TermStats {
	ts := TermStats{Term: term}
	if in.source == nil {
		ts.Error = "no job source configured"
		return ts
	}

	raws, err := in.source.Search(ctx, term, location, perTerm)
	if err != nil {
		ts.Error = err.Error()
		in.logger.Warn("source failed for term, continuing", zap.String("term", term), zap.Error(err))
		// Postings fetched before the failure are still ingested.
	}
	ts.Scraped = len(raws)

	for _, raw := range raws {
		res, err := in.Ingest(ctx, raw)
		if err != nil {
			ts.Failed++
			in.logger.Warn("ingest failed", zap.String("term", term), zap.Error(err))
			continue
		}
		switch res.Outcome {
		case Saved:
			ts.Saved++
		case Duplicate:
			ts.Duplicates++
		case Filtered:
			ts.Filtered++
		}
	}
	return ts
}
