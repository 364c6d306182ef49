// Package httpapi implements the HTTP handlers for the matching service.
//
// Student routes expect an x-user-id header forwarded by the Gateway.
//
// Routes:
//
//	GET  /health                        → liveness, encoder and index state
//	GET  /recommendations               → ranked, paginated jobs for the user
//	GET  /recommendations/top           → top picks for the user
//	PUT  /profile                       → save profile, refresh its vector
//	POST /profile/embedding             → regenerate the user's profile vector
//	GET  /jobs/search?q=                → free-text job search
//	GET  /jobs/domain?branch=           → jobs matching a branch's keywords
//	POST /jobs/{id}/embedding           → regenerate one job vector
//	POST /admin/ingest                  → run a batch ingest
//	POST /admin/sweep                   → run a retention pass
//	GET  /admin/jobs/stats              → job table statistics
//	GET  /admin/credentials             → credential pool statistics
//	POST /assistant/complete            → chat completion relay
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/credentials"
	"jobmate/matching-service/internal/encoder"
	"jobmate/matching-service/internal/llm"
	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/profiles"
	"jobmate/matching-service/internal/ranker"
	"jobmate/matching-service/internal/retention"
	"jobmate/matching-service/internal/scheduler"
	"jobmate/matching-service/internal/scraper"
	"jobmate/matching-service/internal/store"
)

// ─── Dependencies ─────────────────────────────────────────────────────────────

// Recommender ranks jobs for a student and searches them.
type Recommender interface {
	ForStudent(ctx context.Context, studentID string, f ranker.Filters, page, pageSize int) (*ranker.Recommendations, error)
	TopForStudent(ctx context.Context, studentID string, limit int) (*ranker.TopMatches, error)
	Search(ctx context.Context, query string, minScore float64, limit int) (*ranker.SearchResults, error)
	ByDomain(ctx context.Context, branch string, page, pageSize int) (*ranker.DomainJobs, error)
}

// ProfileService updates profile and job vectors.
type ProfileService interface {
	UpdateProfile(ctx context.Context, studentID string, p model.Profile, completed bool) (*profiles.UpdateResult, error)
	RegenerateStudent(ctx context.Context, studentID string) (*profiles.EmbeddingResult, error)
	RegenerateJob(ctx context.Context, id string) (*profiles.EmbeddingResult, error)
}

// Ingester runs a batch ingest. The scheduler serves it so manual runs
// share the cycle lock.
type Ingester interface {
	IngestAll(ctx context.Context, terms []string, location string, perTerm int) (scraper.Stats, error)
}

// Sweeper runs a retention pass.
type Sweeper interface {
	Sweep(ctx context.Context, maxAgeDays int) (int64, error)
}

// Storage is what the health and stats routes read.
type Storage interface {
	Ping(ctx context.Context) error
	JobStats(ctx context.Context, now time.Time) (store.JobStats, error)
}

// indexReporter is implemented by storage backends with a vector index.
type indexReporter interface {
	VectorIndexStatus(ctx context.Context) (store.IndexStatus, error)
}

// Assistant relays chat completions.
type Assistant interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Deps holds everything the handler serves from.
type Deps struct {
	Ranker      Recommender
	Profiles    ProfileService
	Ingester    Ingester
	Sweeper     Sweeper
	Storage     Storage
	Encoder     interface{ Info() encoder.Info }
	Credentials []*credentials.Rotator
	Assistant   Assistant

	Version         string
	MinScoreDefault float64 // 0.0–1.0
	ScrapeLocation  string
	ScrapePerTerm   int
	RetentionDays   int
	RetryAfter      time.Duration
	Now             func() time.Time
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	d      Deps
	logger *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(d Deps, log *zap.Logger) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.RetryAfter <= 0 {
		d.RetryAfter = credentials.DefaultCooldown
	}
	return &Handler{d: d, logger: logger.OrNop(log).Named("http")}
}

// RegisterRoutes mounts all matching-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.only(http.MethodGet, h.health))
	mux.HandleFunc("/recommendations", h.only(http.MethodGet, h.recommendations))
	mux.HandleFunc("/recommendations/top", h.only(http.MethodGet, h.topMatches))
	mux.HandleFunc("/profile", h.only(http.MethodPut, h.updateProfile))
	mux.HandleFunc("/profile/embedding", h.only(http.MethodPost, h.regenerateProfile))
	mux.HandleFunc("/jobs/search", h.only(http.MethodGet, h.searchJobs))
	mux.HandleFunc("/jobs/domain", h.only(http.MethodGet, h.domainJobs))
	mux.HandleFunc("/jobs/", h.only(http.MethodPost, h.regenerateJob))
	mux.HandleFunc("/admin/ingest", h.only(http.MethodPost, h.ingest))
	mux.HandleFunc("/admin/sweep", h.only(http.MethodPost, h.sweep))
	mux.HandleFunc("/admin/jobs/stats", h.only(http.MethodGet, h.jobStats))
	mux.HandleFunc("/admin/credentials", h.only(http.MethodGet, h.credentialStats))
	mux.HandleFunc("/assistant/complete", h.only(http.MethodPost, h.complete))
}

func (h *Handler) only(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

// ─── Health ───────────────────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"service": "matching-service",
		"version": h.d.Version,
	}
	code := http.StatusOK

	if err := h.d.Storage.Ping(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["storage"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		resp["storage"] = "ok"
	}
	if h.d.Encoder != nil {
		resp["encoder"] = h.d.Encoder.Info()
	}
	if ir, ok := h.d.Storage.(indexReporter); ok {
		if st, err := ir.VectorIndexStatus(r.Context()); err == nil {
			resp["vector_index"] = st
		}
	}

	writeJSON(w, code, resp)
}

// ─── Recommendations ──────────────────────────────────────────────────────────

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1, 1, 1<<20)
	if err != nil {
		jsonError(w, "page must be a positive integer", http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"), ranker.DefaultPageSize, 1, ranker.MaxPageSize)
	if err != nil {
		jsonError(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return
	}
	minScore, err := intParam(q.Get("min_score"), int(math.Round(h.d.MinScoreDefault*100)), 0, 100)
	if err != nil {
		jsonError(w, "min_score must be between 0 and 100", http.StatusBadRequest)
		return
	}

	f := ranker.Filters{MinScore: float64(minScore) / 100, ActiveOnly: true}
	recs, err := h.d.Ranker.ForStudent(r.Context(), userID, f, page, limit)
	if err != nil {
		h.fail(w, "recommendations", err)
		return
	}
	jsonOK(w, recs)
}

func (h *Handler) topMatches(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), ranker.DefaultTopLimit, 1, ranker.MaxPageSize)
	if err != nil {
		jsonError(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return
	}
	top, err := h.d.Ranker.TopForStudent(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, "top matches", err)
		return
	}
	jsonOK(w, top)
}

// ─── Search ───────────────────────────────────────────────────────────────────

func (h *Handler) searchJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), ranker.DefaultSearchLimit, 1, ranker.MaxPageSize)
	if err != nil {
		jsonError(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return
	}
	minScore, err := intParam(q.Get("min_score"), int(math.Round(h.d.MinScoreDefault*100)), 0, 100)
	if err != nil {
		jsonError(w, "min_score must be between 0 and 100", http.StatusBadRequest)
		return
	}
	res, err := h.d.Ranker.Search(r.Context(), q.Get("q"), float64(minScore)/100, limit)
	if err != nil {
		h.fail(w, "job search", err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) domainJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1, 1, 1<<20)
	if err != nil {
		jsonError(w, "page must be a positive integer", http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"), ranker.DefaultPageSize, 1, ranker.MaxPageSize)
	if err != nil {
		jsonError(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return
	}
	res, err := h.d.Ranker.ByDomain(r.Context(), q.Get("branch"), page, limit)
	if err != nil {
		h.fail(w, "domain jobs", err)
		return
	}
	jsonOK(w, res)
}

// ─── Vectors ──────────────────────────────────────────────────────────────────

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Profile   model.Profile `json:"profile"`
		Completed *bool         `json:"profile_completed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	completed := body.Completed == nil || *body.Completed

	res, err := h.d.Profiles.UpdateProfile(r.Context(), userID, body.Profile, completed)
	if err != nil {
		h.fail(w, "update profile", err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) regenerateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.d.Profiles.RegenerateStudent(r.Context(), userID)
	if err != nil {
		h.fail(w, "regenerate profile vector", err)
		return
	}
	jsonOK(w, res)
}

// regenerateJob handles POST /jobs/{id}/embedding
func (h *Handler) regenerateJob(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] != "embedding" || parts[1] == "" {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	res, err := h.d.Profiles.RegenerateJob(r.Context(), parts[1])
	if err != nil {
		h.fail(w, "regenerate job vector", err)
		return
	}
	jsonOK(w, res)
}

// ─── Admin ────────────────────────────────────────────────────────────────────

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Terms    []string `json:"terms"`
		Location string   `json:"location"`
		PerTerm  int      `json:"per_term"`
	}
	if err := decodeOptional(r, &body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(body.Terms) == 0 {
		body.Terms = scraper.DefaultSearchTerms
	}
	if body.Location == "" {
		body.Location = h.d.ScrapeLocation
	}
	if body.PerTerm <= 0 {
		body.PerTerm = h.d.ScrapePerTerm
	}

	stats, err := h.d.Ingester.IngestAll(r.Context(), body.Terms, body.Location, body.PerTerm)
	if err != nil {
		h.fail(w, "ingest", err)
		return
	}
	jsonOK(w, stats)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MaxAgeDays int `json:"max_age_days"`
	}
	if err := decodeOptional(r, &body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.MaxAgeDays == 0 {
		body.MaxAgeDays = h.d.RetentionDays
	}
	deleted, err := h.d.Sweeper.Sweep(r.Context(), body.MaxAgeDays)
	if err != nil {
		h.fail(w, "sweep", err)
		return
	}
	jsonOK(w, map[string]any{"deleted": deleted, "max_age_days": body.MaxAgeDays})
}

func (h *Handler) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.d.Storage.JobStats(r.Context(), h.d.Now().UTC())
	if err != nil {
		h.fail(w, "job stats", err)
		return
	}
	jsonOK(w, stats)
}

func (h *Handler) credentialStats(w http.ResponseWriter, _ *http.Request) {
	pools := make([]credentials.Stats, 0, len(h.d.Credentials))
	for _, rot := range h.d.Credentials {
		if rot != nil {
			pools = append(pools, rot.Stats())
		}
	}
	jsonOK(w, map[string]any{"pools": pools})
}

// ─── Assistant ────────────────────────────────────────────────────────────────

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var req llm.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if h.d.Assistant == nil {
		h.fail(w, "assistant", llm.ErrNotConfigured)
		return
	}
	resp, err := h.d.Assistant.Complete(r.Context(), req)
	if err != nil {
		h.fail(w, "assistant", err)
		return
	}
	jsonOK(w, resp)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// fail maps domain errors onto status codes. Unknown errors are logged and
// hidden behind a generic 500.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ranker.ErrStudentNotFound), errors.Is(err, profiles.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ranker.ErrProfileVectorMissing):
		jsonError(w, "Please complete your profile first.", http.StatusConflict)
	case errors.Is(err, scheduler.ErrCycleInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, credentials.ErrAllCredentialsExhausted):
		w.Header().Set("Retry-After", strconv.Itoa(int(h.d.RetryAfter.Seconds())))
		jsonError(w, credentials.ErrAllCredentialsExhausted.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, encoder.ErrModelUnavailable):
		jsonError(w, "embedding model unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, llm.ErrNotConfigured):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, llm.ErrEmptyConversation), errors.Is(err, retention.ErrInvalidAge), errors.Is(err, ranker.ErrEmptyQuery):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		var encErr *encoder.EncodingError
		if errors.As(err, &encErr) {
			h.logger.Warn(op+" failed", zap.Error(err))
			jsonError(w, "embedding generation failed", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error(op+" failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func jsonOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
