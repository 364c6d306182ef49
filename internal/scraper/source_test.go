package scraper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/scraper"
)

func TestAdzunaSource_Search(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/in/search/1" {
			t.Errorf("path = %q, want /in/search/1", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("what") != "go developer" || q.Get("where") != "Pune" || q.Get("results_per_page") != "2" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 2, "results": [
			{"title": "Go Developer", "company": {"display_name": "Acme"}},
			{"title": "Go Intern", "company": {"display_name": "Globex"}}
		]}`))
	}))
	defer srv.Close()

	src := scraper.NewAdzunaSource("id", "key", "in", zap.NewNop())
	src.BaseURL = srv.URL

	got, err := src.Search(context.Background(), "go developer", "Pune", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || requests.Load() != 1 {
		t.Fatalf("got %d results over %d requests, want 2 over 1", len(got), requests.Load())
	}
	if got[0]["site"] != "adzuna" {
		t.Errorf("site = %v, want adzuna", got[0]["site"])
	}
}

func TestAdzunaSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := scraper.NewAdzunaSource("id", "key", "in", zap.NewNop())
	src.BaseURL = srv.URL

	_, err := src.Search(context.Background(), "java", "", 10)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status 429", err)
	}
}

func TestAdzunaSource_MissingCredentials(t *testing.T) {
	src := scraper.NewAdzunaSource("", "", "in", zap.NewNop())
	src.BaseURL = "http://127.0.0.1:0"

	got, err := src.Search(context.Background(), "java", "", 10)
	if err != nil || got != nil {
		t.Errorf("Search = (%v, %v), want (nil, nil)", got, err)
	}
}
