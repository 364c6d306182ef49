package ranker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/store"
)

// ErrEmptyQuery means a search was asked for without any text to match.
var ErrEmptyQuery = errors.New("query is empty")

// DefaultSearchLimit caps free-text search results when no limit is given.
const DefaultSearchLimit = 50

// Search modes.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// QueryEncoder embeds free text into the job vector space.
type QueryEncoder interface {
	EncodeQuery(ctx context.Context, query string) (model.Vector, error)
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithQueryEncoder enables semantic free-text search. Without it Search
// matches keywords only.
func WithQueryEncoder(enc QueryEncoder) Option {
	return func(r *Ranker) { r.enc = enc }
}

// SearchResults is the answer to a free-text job search.
type SearchResults struct {
	Query        string     `json:"query"`
	Mode         string     `json:"mode"`
	TotalResults int        `json:"total_results"`
	Results      []JobMatch `json:"results"`
}

// DomainJobs lists active jobs matching the keywords of an academic branch.
type DomainJobs struct {
	Page
	Branch       string   `json:"branch"`
	KeywordsUsed []string `json:"keywords_used"`
}

// branchKeywords maps a fragment of a branch name to the terms searched
// for it. The first fragment contained in the branch wins.
var branchKeywords = []struct {
	fragment string
	keywords []string
}{
	{"computer", []string{"software", "developer", "programmer", "coding", "web", "app", "data", "ai", "ml", "tech"}},
	{"electronics", []string{"hardware", "embedded", "circuit", "electronics", "iot", "robotics"}},
	{"mechanical", []string{"manufacturing", "design", "cad", "mechanical", "automotive", "production"}},
	{"electrical", []string{"electrical", "power", "energy", "automation", "control"}},
	{"civil", []string{"civil", "construction", "structure", "building", "infrastructure"}},
	{"chemical", []string{"chemical", "process", "plant", "pharma", "refinery"}},
}

// DomainKeywords returns the search terms for branch. Unknown branches are
// searched by their own lowercased name.
func DomainKeywords(branch string) []string {
	lower := strings.ToLower(strings.TrimSpace(branch))
	if lower == "" {
		return nil
	}
	for _, b := range branchKeywords {
		if strings.Contains(lower, b.fragment) {
			return b.keywords
		}
	}
	return []string{lower}
}

// Search finds active jobs for free text. The query is embedded and matched
// by similarity of at least minScore; when no encoder is configured or
// embedding fails, the words of the query are matched as keywords instead.
func (r *Ranker) Search(ctx context.Context, query string, minScore float64, limit int) (*SearchResults, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit = clampPageSize(limit, DefaultSearchLimit)

	if r.enc != nil {
		vec, err := r.enc.EncodeQuery(ctx, query)
		if err == nil {
			return r.semanticSearch(ctx, query, vec, minScore, limit)
		}
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("query embedding failed, matching keywords", zap.Error(err))
	}
	return r.keywordSearch(ctx, query, limit)
}

func (r *Ranker) semanticSearch(ctx context.Context, query string, vec model.Vector, minScore float64, limit int) (*SearchResults, error) {
	candidates, err := r.search(ctx, vec, r.pool(limit))
	if err != nil {
		return nil, err
	}
	results := make([]JobMatch, 0, limit)
	for _, c := range candidates {
		if len(results) == limit {
			break
		}
		if c.Job.Active() && c.Similarity >= minScore {
			results = append(results, toMatch(c))
		}
	}
	r.logger.Info("semantic search", zap.String("query", query), zap.Int("results", len(results)))
	return &SearchResults{Query: query, Mode: ModeSemantic, TotalResults: len(results), Results: results}, nil
}

func (r *Ranker) keywordSearch(ctx context.Context, query string, limit int) (*SearchResults, error) {
	jobs, _, err := r.store.JobsByKeywords(ctx, store.KeywordQuery{Keywords: strings.Fields(query), Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	results := make([]JobMatch, 0, len(jobs))
	for _, j := range jobs {
		results = append(results, toMatch(store.Candidate{Job: j}))
	}
	return &SearchResults{Query: query, Mode: ModeKeyword, TotalResults: len(results), Results: results}, nil
}

// ByDomain pages through active jobs matching the keywords of branch,
// newest first. Match scores are zero; no vector is involved.
func (r *Ranker) ByDomain(ctx context.Context, branch string, page, pageSize int) (*DomainJobs, error) {
	keywords := DomainKeywords(branch)
	if len(keywords) == 0 {
		return nil, ErrEmptyQuery
	}
	page = max(page, 1)
	pageSize = clampPageSize(pageSize, DefaultPageSize)

	offset := math.MaxInt
	if page-1 <= math.MaxInt/pageSize {
		offset = (page - 1) * pageSize
	}
	jobs, total, err := r.store.JobsByKeywords(ctx, store.KeywordQuery{Keywords: keywords, Limit: pageSize, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("domain jobs: %w", err)
	}

	matches := make([]JobMatch, 0, len(jobs))
	for _, j := range jobs {
		matches = append(matches, toMatch(store.Candidate{Job: j}))
	}
	totalPages := (total + pageSize - 1) / pageSize
	return &DomainJobs{
		Page: Page{
			Jobs: matches,
			Pagination: Pagination{
				Page:       page,
				Limit:      pageSize,
				TotalCount: total,
				TotalPages: totalPages,
				HasNext:    page < totalPages,
				HasPrev:    page > 1,
			},
		},
		Branch:       strings.TrimSpace(branch),
		KeywordsUsed: keywords,
	}, nil
}
