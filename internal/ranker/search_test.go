package ranker_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/ranker"
	"jobmate/matching-service/internal/store"
)

type queryEncoder struct {
	vec   model.Vector
	err   error
	texts []string
}

func (q *queryEncoder) EncodeQuery(_ context.Context, text string) (model.Vector, error) {
	q.texts = append(q.texts, text)
	return q.vec, q.err
}

func addJob(t *testing.T, m *store.Memory, title, skills string, vec model.Vector, posted time.Time) {
	t.Helper()
	_, _, err := m.InsertJobIfAbsent(context.Background(), &model.Job{
		Title: title, Company: "Acme", Location: "Pune", SkillsRequired: skills,
		PostedAt: posted, IsActive: true, Status: model.JobStatusActive, Vector: vec,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func titles(jobs []ranker.JobMatch) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Title)
	}
	return out
}

// ── Search ─────────────────────────────────────────────────────────────────

func TestSearch_Semantic(t *testing.T) {
	m := seed(t, 0.4, 0.955, 0.7, 0.855)
	enc := &queryEncoder{vec: query}
	r := ranker.New(m, 0, 0, nil, ranker.WithQueryEncoder(enc))

	got, err := r.Search(context.Background(), "  react developer  ", 0.5, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got.Mode != ranker.ModeSemantic || got.Query != "react developer" {
		t.Errorf("mode/query = %q/%q", got.Mode, got.Query)
	}
	if want := []string{"Job 01", "Job 03"}; !slices.Equal(titles(got.Results), want) || got.TotalResults != 2 {
		t.Errorf("results = %q (total %d), want %q", titles(got.Results), got.TotalResults, want)
	}
	if got.Results[0].MatchScore != 95 {
		t.Errorf("MatchScore = %d, want 95", got.Results[0].MatchScore)
	}
	if !slices.Equal(enc.texts, []string{"react developer"}) {
		t.Errorf("encoded %q", enc.texts)
	}
}

func TestSearch_MinScoreExcludesAll(t *testing.T) {
	r := ranker.New(seed(t, 0.3, 0.2), 0, 0, nil, ranker.WithQueryEncoder(&queryEncoder{vec: query}))
	got, err := r.Search(context.Background(), "anything", 0.5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalResults != 0 || got.Results == nil {
		t.Errorf("got %+v, want an empty non-nil result list", got)
	}
}

func TestSearch_FallsBackToKeywords(t *testing.T) {
	m := store.NewMemory()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	addJob(t, m, "React Developer", "react, redux", at(0.9), day)
	addJob(t, m, "Frontend Engineer", "React", at(0.1), day.AddDate(0, 0, 1))
	addJob(t, m, "Welder", "", at(0.99), day)

	cases := []struct {
		name string
		opts []ranker.Option
	}{
		{"encoder fails", []ranker.Option{ranker.WithQueryEncoder(&queryEncoder{err: errors.New("quota")})}},
		{"no encoder", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			r := ranker.New(m, 0, 0, zap.New(core), tc.opts...)

			got, err := r.Search(context.Background(), "react", 0.5, 10)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if got.Mode != ranker.ModeKeyword {
				t.Errorf("mode = %q, want keyword", got.Mode)
			}
			if want := []string{"Frontend Engineer", "React Developer"}; !slices.Equal(titles(got.Results), want) {
				t.Errorf("results = %q, want %q", titles(got.Results), want)
			}
			if wantWarn := tc.opts != nil; (logs.Len() == 1) != wantWarn {
				t.Errorf("warn logs = %d, want warning %v", logs.Len(), wantWarn)
			}
		})
	}
}

func TestSearch_CanceledContextIsNotMaskedByFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := ranker.New(store.NewMemory(), 0, 0, nil, ranker.WithQueryEncoder(&queryEncoder{err: context.Canceled}))
	if _, err := r.Search(ctx, "go", 0, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	r := ranker.New(store.NewMemory(), 0, 0, nil)
	for _, q := range []string{"", "   "} {
		if _, err := r.Search(context.Background(), q, 0, 10); !errors.Is(err, ranker.ErrEmptyQuery) {
			t.Errorf("Search(%q) err = %v, want ErrEmptyQuery", q, err)
		}
	}
}

// ── Domain ─────────────────────────────────────────────────────────────────

func TestDomainKeywords(t *testing.T) {
	cases := []struct {
		branch string
		first  string
	}{
		{"Computer Science", "software"},
		{"Electronics and Communication", "hardware"},
		{"Mechanical Engineering", "manufacturing"},
		{"Electrical", "electrical"},
		{"CIVIL", "civil"},
		{"Chemical Engineering", "chemical"},
		{"Biotechnology", "biotechnology"},
		{"  ", ""},
	}
	for _, tc := range cases {
		got := ranker.DomainKeywords(tc.branch)
		first := ""
		if len(got) > 0 {
			first = got[0]
		}
		if first != tc.first {
			t.Errorf("DomainKeywords(%q) = %q, want first %q", tc.branch, got, tc.first)
		}
	}
}

func TestByDomain(t *testing.T) {
	m := store.NewMemory()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	addJob(t, m, "Embedded Engineer", "", nil, day)
	addJob(t, m, "IoT Intern", "", nil, day.AddDate(0, 0, 2))
	addJob(t, m, "Robotics Trainee", "", nil, day.AddDate(0, 0, 1))
	addJob(t, m, "Accountant", "tally", nil, day.AddDate(0, 0, 3))
	r := ranker.New(m, 0, 0, nil)

	got, err := r.ByDomain(context.Background(), " Electronics ", 1, 2)
	if err != nil {
		t.Fatalf("ByDomain: %v", err)
	}
	if want := []string{"IoT Intern", "Robotics Trainee"}; !slices.Equal(titles(got.Jobs), want) {
		t.Errorf("page 1 = %q, want %q", titles(got.Jobs), want)
	}
	p := got.Pagination
	if p.TotalCount != 3 || p.TotalPages != 2 || !p.HasNext || p.HasPrev || got.Branch != "Electronics" {
		t.Errorf("pagination = %+v branch = %q", p, got.Branch)
	}

	got, _ = r.ByDomain(context.Background(), "Electronics", 2, 2)
	if want := []string{"Embedded Engineer"}; !slices.Equal(titles(got.Jobs), want) || got.Pagination.HasNext {
		t.Errorf("page 2 = %q %+v", titles(got.Jobs), got.Pagination)
	}

	got, err = r.ByDomain(context.Background(), "Electronics", math.MaxInt, 2)
	if err != nil || len(got.Jobs) != 0 || got.Pagination.TotalCount != 3 {
		t.Errorf("huge page = %+v, %v", got, err)
	}

	if _, err := r.ByDomain(context.Background(), "", 1, 2); !errors.Is(err, ranker.ErrEmptyQuery) {
		t.Errorf("empty branch err = %v", err)
	}
}
