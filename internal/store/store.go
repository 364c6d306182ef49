// Package store persists jobs and student profiles with their vectors.
//
// Postgres (pgvector) is the production backend; Memory implements the same
// contracts in process. Neither retries failed calls.
package store

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"jobmate/matching-service/internal/model"
)

// ErrNotFound is returned when a job or student does not exist.
var ErrNotFound = errors.New("not found")

// SearchOptions bound a similarity search. NumCandidates is the candidate
// pool examined; Limit caps the rows returned.
type SearchOptions struct {
	NumCandidates int
	Limit         int
}

// Candidate is one similarity-search hit. Similarity is cosine similarity
// clamped to [0, 1]. Job.Vector is not populated.
type Candidate struct {
	Job        model.Job
	Similarity float64
}

// KeywordQuery selects active jobs whose title, description or skills match
// any keyword, case-insensitively. Results are newest first.
type KeywordQuery struct {
	Keywords []string
	Limit    int
	Offset   int
}

// pattern is the keywords as one alternation. Keywords are matched literally.
func (q KeywordQuery) pattern() string {
	quoted := make([]string, 0, len(q.Keywords))
	for _, k := range q.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	return strings.Join(quoted, "|")
}

// JobStats summarises the jobs table.
type JobStats struct {
	Total     int64            `json:"total_jobs"`
	Active    int64            `json:"active_jobs"`
	Recent24h int64            `json:"recent_jobs_24h"`
	BySource  map[string]int64 `json:"by_source"`
	ByType    map[string]int64 `json:"by_type"`
}

// clampSimilarity maps cosine similarity onto [0, 1]; negative similarity
// counts as no match.
func clampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

func candidateLimit(opts SearchOptions) int {
	limit := opts.Limit
	if limit <= 0 || (opts.NumCandidates > 0 && opts.NumCandidates < limit) {
		limit = opts.NumCandidates
	}
	return limit
}

func timePtr(t time.Time) *time.Time { return &t }
