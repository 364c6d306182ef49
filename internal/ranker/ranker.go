// Package ranker turns a similarity search over job vectors into filtered,
// paginated recommendations.
// It is transport-agnostic: used by the HTTP API and the CLI.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/store"
)

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrProfileVectorMissing means the student has no profile vector yet.
	// It is a user-facing "complete your profile" condition, not a fault.
	ErrProfileVectorMissing = errors.New("profile embedding not found, please complete your profile first")
	// ErrStudentNotFound means no student exists with the given id.
	ErrStudentNotFound = errors.New("student not found")
)

// ─── Defaults ────────────────────────────────────────────────────────────────

const (
	DefaultCandidateFloor      = 200
	DefaultCandidateMultiplier = 10
	DefaultPageSize            = 20
	DefaultTopLimit            = 10
	MaxPageSize                = 100

	snippetLength = 300

	// MatchingStrategy labels responses produced by this package.
	MatchingStrategy = "vector_similarity"
)

// ─── Response shapes ─────────────────────────────────────────────────────────

// JobMatch is one ranked job as shown to a student.
type JobMatch struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Company            string    `json:"company"`
	Location           string    `json:"location"`
	Description        string    `json:"description"`
	JobType            string    `json:"job_type"`
	SalaryRange        string    `json:"salary_range"`
	ExperienceRequired string    `json:"experience_required"`
	SkillsRequired     string    `json:"skills_required"`
	Source             string    `json:"source"`
	JobURL             string    `json:"job_url"`
	PostedAt           time.Time `json:"posted_at"`
	MatchScore         int       `json:"match_score"`
	Similarity         float64   `json:"similarity"`
}

// Pagination describes where a page sits in the filtered result.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"total_count"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Page is one page of ranked jobs. An empty Jobs slice with TotalCount 0
// means nothing qualified; it is not an error.
type Page struct {
	Jobs       []JobMatch `json:"jobs"`
	Pagination Pagination `json:"pagination"`
}

// Recommendations is a Page for a specific student.
type Recommendations struct {
	Page
	StudentBranch    string `json:"student_branch"`
	MatchingStrategy string `json:"matching_strategy"`
}

// TopMatches is the compact "top picks" result.
type TopMatches struct {
	Jobs  []JobMatch `json:"jobs"`
	Total int        `json:"total"`
}

// Filters narrow the candidate set. MinScore is a similarity in [0, 1].
type Filters struct {
	MinScore   float64
	ActiveOnly bool
}

// ─── Ranker ──────────────────────────────────────────────────────────────────

// Store is the storage the ranker reads from.
type Store interface {
	SearchJobs(ctx context.Context, query model.Vector, opts store.SearchOptions) ([]store.Candidate, error)
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	JobsByKeywords(ctx context.Context, q store.KeywordQuery) ([]model.Job, int, error)
}

// Ranker ranks jobs against a query vector.
type Ranker struct {
	store      Store
	floor      int
	multiplier int
	enc        QueryEncoder // nil: keyword search only
	logger     *zap.Logger
}

// New returns a Ranker. Non-positive floor or multiplier use the defaults.
func New(st Store, floor, multiplier int, log *zap.Logger, opts ...Option) *Ranker {
	if floor <= 0 {
		floor = DefaultCandidateFloor
	}
	if multiplier <= 0 {
		multiplier = DefaultCandidateMultiplier
	}
	r := &Ranker{store: st, floor: floor, multiplier: multiplier, logger: logger.OrNop(log).Named("ranker")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pool is the number of candidates requested from storage for n results.
// It is deliberately larger than n because filtering discards some.
func (r *Ranker) pool(n int) int { return max(r.floor, n*r.multiplier) }

// Rank returns page of the candidates passing filters, ordered by similarity
// descending with ties kept in storage order. page is 1-based; pageSize is
// clamped to [1, MaxPageSize].
func (r *Ranker) Rank(ctx context.Context, query model.Vector, f Filters, page, pageSize int) (*Page, error) {
	if len(query) == 0 {
		return nil, ErrProfileVectorMissing
	}
	page = max(page, 1)
	pageSize = clampPageSize(pageSize, DefaultPageSize)

	candidates, err := r.search(ctx, query, r.pool(pageSize))
	if err != nil {
		return nil, err
	}

	// ── Filter ──────────────────────────────────────────
	filtered := candidates[:0]
	for _, c := range candidates {
		if f.ActiveOnly && !c.Job.Active() {
			continue
		}
		if c.Similarity < f.MinScore {
			continue
		}
		filtered = append(filtered, c)
	}

	// ── Sort (stable: ties keep storage order) ─────────
	slices.SortStableFunc(filtered, func(a, b store.Candidate) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})

	// ── Paginate ────────────────────────────────────────
	total := len(filtered)
	totalPages := (total + pageSize - 1) / pageSize
	start := total
	if page <= totalPages {
		start = (page - 1) * pageSize
	}
	end := min(start+pageSize, total)

	jobs := make([]JobMatch, 0, end-start)
	for _, c := range filtered[start:end] {
		jobs = append(jobs, toMatch(c))
	}

	return &Page{
		Jobs: jobs,
		Pagination: Pagination{
			Page:       page,
			Limit:      pageSize,
			TotalCount: total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	}, nil
}

// TopMatches returns the first limit active candidates straight from the
// similarity search. No minimum score is applied.
func (r *Ranker) TopMatches(ctx context.Context, query model.Vector, limit int) ([]JobMatch, error) {
	if len(query) == 0 {
		return nil, ErrProfileVectorMissing
	}
	limit = clampPageSize(limit, DefaultTopLimit)

	candidates, err := r.search(ctx, query, r.pool(limit))
	if err != nil {
		return nil, err
	}

	out := make([]JobMatch, 0, limit)
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		if c.Job.Active() {
			out = append(out, toMatch(c))
		}
	}
	return out, nil
}

// ForStudent ranks jobs against the stored profile vector of studentID.
func (r *Ranker) ForStudent(ctx context.Context, studentID string, f Filters, page, pageSize int) (*Recommendations, error) {
	st, err := r.student(ctx, studentID)
	if err != nil {
		return nil, err
	}

	p, err := r.Rank(ctx, st.Vector, f, page, pageSize)
	if err != nil {
		return nil, err
	}

	r.logger.Info("recommendations ranked",
		zap.String("student_id", studentID),
		zap.Int("page", p.Pagination.Page),
		zap.Int("total", p.Pagination.TotalCount),
		zap.Int("returned", len(p.Jobs)),
	)

	branch := st.Profile.Branch
	if branch == "" {
		branch = "Unknown"
	}
	return &Recommendations{Page: *p, StudentBranch: branch, MatchingStrategy: MatchingStrategy}, nil
}

// TopForStudent returns the top picks for studentID.
func (r *Ranker) TopForStudent(ctx context.Context, studentID string, limit int) (*TopMatches, error) {
	st, err := r.student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	jobs, err := r.TopMatches(ctx, st.Vector, limit)
	if err != nil {
		return nil, err
	}
	return &TopMatches{Jobs: jobs, Total: len(jobs)}, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (r *Ranker) student(ctx context.Context, id string) (*model.Student, error) {
	st, err := r.store.GetStudent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	if !st.HasVector() {
		return nil, ErrProfileVectorMissing
	}
	return st, nil
}

func (r *Ranker) search(ctx context.Context, query model.Vector, pool int) ([]store.Candidate, error) {
	candidates, err := r.store.SearchJobs(ctx, query, store.SearchOptions{NumCandidates: pool, Limit: pool})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return candidates, nil
}

func clampPageSize(n, def int) int {
	if n <= 0 {
		return def
	}
	return min(n, MaxPageSize)
}

func toMatch(c store.Candidate) JobMatch {
	j := c.Job
	return JobMatch{
		ID:                 j.ID,
		Title:              j.Title,
		Company:            j.Company,
		Location:           j.Location,
		Description:        logger.Truncate(j.Description, snippetLength),
		JobType:            j.JobType,
		SalaryRange:        orNotSpecified(j.SalaryRange),
		ExperienceRequired: j.ExperienceRequired,
		SkillsRequired:     j.SkillsRequired,
		Source:             j.Source,
		JobURL:             j.JobURL,
		PostedAt:           j.PostedAt,
		MatchScore:         MatchScore(c.Similarity),
		Similarity:         math.Round(c.Similarity*1000) / 1000,
	}
}

// MatchScore converts a similarity in [0, 1] to a whole percentage,
// rounding down.
func MatchScore(similarity float64) int {
	// The epsilon keeps 0.29 from flooring to 28 through float error.
	score := int(math.Floor(similarity*100 + 1e-9))
	return min(max(score, 0), 100)
}

func orNotSpecified(s string) string {
	if s == "" {
		return "Not specified"
	}
	return s
}
