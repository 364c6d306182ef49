package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
)

// Source supplies raw postings for one search term.
type Source interface {
	Search(ctx context.Context, term, location string, limit int) ([]model.RawJob, error)
}

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3
	httpTimeout    = 15 * time.Second
)

// AdzunaSource fetches postings from the Adzuna public API. Page requests
// share one rate limiter across all terms. If AppID or AppKey is empty,
// Search returns (nil, nil) and the cycle simply ingests nothing.
type AdzunaSource struct {
	AppID   string
	AppKey  string
	Country string // "in", "gb", "us", …
	BaseURL string

	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAdzunaSource constructs a source allowing one page request per second.
func NewAdzunaSource(appID, appKey, country string, log *zap.Logger) *AdzunaSource {
	return &AdzunaSource{
		AppID:   appID,
		AppKey:  appKey,
		Country: country,
		BaseURL: adzunaBaseURL,
		client:  &http.Client{Timeout: httpTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger.OrNop(log).Named("adzuna"),
	}
}

type adzunaPage struct {
	Results []model.RawJob `json:"results"`
	Count   int            `json:"count"`
}

// Search returns up to limit postings for term near location, paging until
// the limit, a short page, or adzunaMaxPages.
func (s *AdzunaSource) Search(ctx context.Context, term, location string, limit int) ([]model.RawJob, error) {
	if s.AppID == "" || s.AppKey == "" {
		s.logger.Warn("ADZUNA_APP_ID / ADZUNA_APP_KEY not set, skipping scrape", zap.String("term", term))
		return nil, nil
	}

	pageSize := min(limit, adzunaPageSize)
	var results []model.RawJob
	for page := 1; page <= adzunaMaxPages && len(results) < limit; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return results, err
		}
		batch, err := s.fetchPage(ctx, term, location, page, pageSize)
		if err != nil {
			return results, fmt.Errorf("page %d: %w", page, err)
		}
		results = append(results, batch...)
		if len(batch) < pageSize {
			break
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *AdzunaSource) fetchPage(ctx context.Context, term, location string, page, pageSize int) ([]model.RawJob, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", s.BaseURL, s.Country, page)

	params := url.Values{}
	params.Set("app_id", s.AppID)
	params.Set("app_key", s.AppKey)
	params.Set("results_per_page", strconv.Itoa(pageSize))
	params.Set("what", term)
	params.Set("where", location)
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, logger.Truncate(string(body), 200))
	}

	var parsed adzunaPage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	results := make([]model.RawJob, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r == nil {
			continue
		}
		r["site"] = "adzuna"
		results = append(results, r)
	}
	return results, nil
}
