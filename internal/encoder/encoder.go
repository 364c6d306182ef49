// Package encoder turns profiles and jobs into fixed-size vectors.
//
// The underlying model is loaded on first use, once per process. A failed
// load is retried by the next call; while it keeps failing every call
// returns an error wrapping ErrModelUnavailable.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"jobmate/matching-service/internal/credentials"
	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
)

var (
	// ErrModelUnavailable means the model could not be loaded.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrDimensionMismatch means the model produced vectors of the wrong size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// EncodingError is returned by every failed encode. Callers on degrade paths
// store a null vector; explicit regenerate requests surface it.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string { return "encode " + e.Op + ": " + e.Err.Error() }

func (e *EncodingError) Unwrap() error { return e.Err }

// Model is a loaded embedding backend.
type Model interface {
	Embed(ctx context.Context, texts []string) ([]model.Vector, error)
	Dimension() int
}

// Loader constructs a Model. It may block on downloads or network probes.
type Loader func(ctx context.Context) (Model, error)

// Options configure an Encoder.
type Options struct {
	Provider    string
	ModelName   string
	Dimension   int
	BatchSize   int
	MaxRetries  int
	Workers     int
	Timeout     time.Duration // per attempt
	LoadTimeout time.Duration
	Backoff     time.Duration // first retry delay, doubled per attempt
}

// Model load states reported by Info.
const (
	StatusNotLoaded = "not_loaded"
	StatusLoaded    = "loaded"
	StatusFailed    = "failed"
)

// Info describes the configured model.
type Info struct {
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	ModelID   string `json:"model_id"`
	Dimension int    `json:"embedding_dimension"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Encoder is the shared, lazily loaded text-to-vector service.
type Encoder struct {
	opts   Options
	id     string
	text   *TextBuilder
	load   Loader
	logger *zap.Logger

	group   singleflight.Group
	workers *semaphore.Weighted

	mu      sync.RWMutex
	model   Model
	loadErr error
}

// New returns an Encoder. Nothing is loaded until the first encode.
func New(load Loader, text *TextBuilder, opts Options, log *zap.Logger) *Encoder {
	if opts.BatchSize < 1 {
		opts.BatchSize = 32
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 2 * time.Minute
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	return &Encoder{
		opts:    opts,
		id:      ModelID(opts.Provider, opts.ModelName, opts.Dimension),
		text:    text,
		load:    load,
		logger:  logger.OrNop(log).Named("encoder"),
		workers: semaphore.NewWeighted(int64(opts.Workers)),
	}
}

// ModelID names the vector space a configuration produces. Two providers
// serving the same model name do not produce comparable vectors, so the
// provider and dimension are part of the name.
func ModelID(provider, modelName string, dim int) string {
	parts := make([]string, 0, 3)
	if provider != "" {
		parts = append(parts, provider)
	}
	parts = append(parts, modelName)
	if dim > 0 {
		parts = append(parts, strconv.Itoa(dim))
	}
	return strings.Join(parts, "/")
}

// ModelName is recorded next to every stored vector. It is the ModelID of
// the configuration, so switching provider marks stored vectors stale.
func (e *Encoder) ModelName() string { return e.id }

// Dimension is the length of every vector this encoder returns.
func (e *Encoder) Dimension() int { return e.opts.Dimension }

// Encodable reports whether rec has at least one encodable field.
// EncodeBatch drops records for which this is false.
func (e *Encoder) Encodable(rec Record) bool { return !e.text.Empty(rec) }

// Info reports the model configuration and load state.
func (e *Encoder) Info() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info := Info{
		Provider:  e.opts.Provider,
		ModelName: e.opts.ModelName,
		ModelID:   e.id,
		Dimension: e.opts.Dimension,
		Status:    StatusNotLoaded,
	}
	switch {
	case e.model != nil:
		info.Status = StatusLoaded
	case e.loadErr != nil:
		info.Status = StatusFailed
		info.LastError = e.loadErr.Error()
	}
	return info
}

// ─── Encoding ─────────────────────────────────────────────────────────────────

// Encode returns the vector for one record. Empty records are encoded from
// their fallback phrase.
func (e *Encoder) Encode(ctx context.Context, rec Record) (model.Vector, error) {
	vecs, err := e.embed(ctx, "record", []string{e.text.Text(rec)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeQuery embeds free text such as a search box entry.
func (e *Encoder) EncodeQuery(ctx context.Context, query string) (model.Vector, error) {
	if query == "" {
		query = FallbackQuery
	}
	vecs, err := e.embed(ctx, "query", []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch encodes the records that have encodable text, in order.
// Records with no encodable field are dropped, so the result may be shorter
// than recs: result[i] belongs to the i-th record for which Encodable is
// true, not to recs[i]. An input with nothing encodable returns nil, nil.
func (e *Encoder) EncodeBatch(ctx context.Context, recs []Record) ([]model.Vector, error) {
	texts := make([]string, 0, len(recs))
	for _, rec := range recs {
		if !e.text.Empty(rec) {
			texts = append(texts, e.text.Text(rec))
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	var chunks [][]string
	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(texts))
		chunks = append(chunks, texts[start:end])
	}

	results := make([][]model.Vector, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			vecs, err := e.embed(gctx, "batch", chunk)
			results[i] = vecs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.Vector, 0, len(texts))
	for _, vecs := range results {
		out = append(out, vecs...)
	}
	return out, nil
}

// embed runs one underlying model call with retries, a per-attempt timeout
// and a bounded number of concurrent calls.
func (e *Encoder) embed(ctx context.Context, op string, texts []string) ([]model.Vector, error) {
	m, err := e.ensureModel(ctx)
	if err != nil {
		return nil, &EncodingError{Op: op, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.opts.Backoff << (attempt - 1)
			if err := waitFor(ctx, delay); err != nil {
				return nil, &EncodingError{Op: op, Err: err}
			}
		}

		vecs, err := e.attempt(ctx, m, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
		e.logger.Warn("embedding attempt failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, &EncodingError{Op: op, Err: lastErr}
}

func (e *Encoder) attempt(ctx context.Context, m Model, texts []string) ([]model.Vector, error) {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.workers.Release(1)

	actx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	vecs, err := m.Embed(actx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("model returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != e.opts.Dimension {
			return nil, fmt.Errorf("%w: vector %d has %d components, want %d",
				ErrDimensionMismatch, i, len(v), e.opts.Dimension)
		}
	}
	return vecs, nil
}

// retryable excludes failures a retry cannot fix: caller cancellation,
// exhausted credential pools and wrong-sized models.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, credentials.ErrAllCredentialsExhausted) &&
		!errors.Is(err, ErrDimensionMismatch)
}

// ─── Lazy load ────────────────────────────────────────────────────────────────

func (e *Encoder) ensureModel(ctx context.Context) (Model, error) {
	e.mu.RLock()
	m := e.model
	e.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	// Concurrent first callers share one load. The load outlives a caller
	// that gives up waiting.
	ch := e.group.DoChan("load", func() (any, error) {
		e.mu.RLock()
		m := e.model
		e.mu.RUnlock()
		if m != nil {
			return m, nil
		}

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.LoadTimeout)
		defer cancel()

		start := time.Now()
		e.logger.Info("loading embedding model",
			zap.String("provider", e.opts.Provider),
			zap.String("model", e.opts.ModelName),
		)
		loaded, err := e.load(lctx)
		if err == nil && loaded.Dimension() != e.opts.Dimension {
			err = fmt.Errorf("%w: model has %d dimensions, configured %d",
				ErrDimensionMismatch, loaded.Dimension(), e.opts.Dimension)
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.loadErr = err
			e.logger.Error("embedding model load failed", zap.Error(err))
			return nil, err
		}
		e.model = loaded
		e.loadErr = nil
		e.logger.Info("embedding model loaded", zap.Duration("took", time.Since(start)))
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, res.Err)
		}
		return res.Val.(Model), nil
	}
}

// waitFor sleeps for d or until ctx is done.
func waitFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
