package ranker_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/ranker"
	"jobmate/matching-service/internal/store"
)

var query = model.Vector{1, 0}

// at returns a unit vector whose cosine similarity with query is s.
func at(s float64) model.Vector {
	return model.Vector{float32(s), float32(math.Sqrt(1 - s*s))}
}

func seed(t *testing.T, sims ...float64) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	for i, s := range sims {
		_, _, err := m.InsertJobIfAbsent(context.Background(), &model.Job{
			Title:       fmt.Sprintf("Job %02d", i),
			Company:     "Acme",
			Location:    "Pune",
			Description: strings.Repeat("x", 400),
			PostedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			IsActive:    true,
			Status:      model.JobStatusActive,
			Vector:      at(s),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return m
}

// ── Rank ───────────────────────────────────────────────────────────────────

func TestRank_MinScoreAndPagination(t *testing.T) {
	sims := make([]float64, 0, 50)
	for i := range 50 {
		sims = append(sims, 0.5+float64(i)*0.01) // 0.50 … 0.99
	}
	r := ranker.New(seed(t, sims...), 0, 0, nil)
	ctx := context.Background()
	f := ranker.Filters{MinScore: 0.795, ActiveOnly: true}

	first, err := r.Rank(ctx, query, f, 1, 7)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	p := first.Pagination
	if p.TotalCount != 20 || p.TotalPages != 3 || !p.HasNext || p.HasPrev {
		t.Fatalf("pagination = %+v, want 20 results over 3 pages", p)
	}

	seen := 0
	prev := math.Inf(1)
	for page := 1; page <= p.TotalPages; page++ {
		got, err := r.Rank(ctx, query, f, page, 7)
		if err != nil {
			t.Fatal(err)
		}
		for _, j := range got.Jobs {
			if j.Similarity < f.MinScore {
				t.Errorf("page %d: similarity %.3f below min score", page, j.Similarity)
			}
			if j.Similarity > prev {
				t.Errorf("page %d: %.3f after %.3f, not descending", page, j.Similarity, prev)
			}
			prev = j.Similarity
		}
		seen += len(got.Jobs)
	}
	if seen != p.TotalCount {
		t.Errorf("sum of page sizes = %d, want total_count %d", seen, p.TotalCount)
	}
}

func TestRank_Idempotent(t *testing.T) {
	r := ranker.New(seed(t, 0.7, 0.9, 0.9, 0.8, 0.9), 0, 0, nil)
	ctx := context.Background()

	a, err := r.Rank(ctx, query, ranker.Filters{}, 1, 20)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Rank(ctx, query, ranker.Filters{}, 1, 20)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical queries returned different pages")
	}

	// Ties keep storage order.
	var tied []string
	for _, j := range a.Jobs {
		if j.Similarity == a.Jobs[0].Similarity {
			tied = append(tied, j.Title)
		}
	}
	if want := []string{"Job 01", "Job 02", "Job 04"}; !reflect.DeepEqual(tied, want) {
		t.Errorf("tie order = %v, want %v", tied, want)
	}
}

func TestRank_FiltersInactive(t *testing.T) {
	m := seed(t, 0.9, 0.8)
	ctx := context.Background()
	cands, _ := m.SearchJobs(ctx, query, store.SearchOptions{})
	if err := m.SetActive(ctx, cands[0].Job.ID, false, "closed"); err != nil {
		t.Fatal(err)
	}
	r := ranker.New(m, 0, 0, nil)

	active, _ := r.Rank(ctx, query, ranker.Filters{ActiveOnly: true}, 1, 10)
	if len(active.Jobs) != 1 || active.Jobs[0].Title != "Job 01" {
		t.Errorf("ActiveOnly returned %+v", active.Jobs)
	}
	all, _ := r.Rank(ctx, query, ranker.Filters{}, 1, 10)
	if len(all.Jobs) != 2 {
		t.Errorf("without ActiveOnly got %d jobs, want 2", len(all.Jobs))
	}
}

func TestRank_EmptyIsNotAnError(t *testing.T) {
	r := ranker.New(seed(t, 0.3), 0, 0, nil)
	got, err := r.Rank(context.Background(), query, ranker.Filters{MinScore: 0.9}, 1, 20)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(got.Jobs) != 0 || got.Pagination.TotalCount != 0 || got.Pagination.TotalPages != 0 || got.Pagination.HasNext {
		t.Errorf("empty result = %+v", got)
	}
	if got.Jobs == nil {
		t.Error("Jobs should be an empty slice so it encodes as []")
	}
}

func TestRank_PageBeyondEnd(t *testing.T) {
	r := ranker.New(seed(t, 0.9, 0.8), 0, 0, nil)
	got, err := r.Rank(context.Background(), query, ranker.Filters{}, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Jobs) != 0 || !got.Pagination.HasPrev || got.Pagination.HasNext {
		t.Errorf("page 5 of 2 = %+v", got.Pagination)
	}
}

func TestRank_HugePageDoesNotOverflow(t *testing.T) {
	r := ranker.New(seed(t, 0.9, 0.8), 0, 0, nil)
	for _, page := range []int{math.MaxInt, math.MaxInt / 20} {
		got, err := r.Rank(context.Background(), query, ranker.Filters{}, page, ranker.MaxPageSize)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Jobs) != 0 || got.Pagination.Page != page || got.Pagination.TotalCount != 2 {
			t.Errorf("page %d = %d jobs, %+v", page, len(got.Jobs), got.Pagination)
		}
	}
}

func TestRank_ResponseShape(t *testing.T) {
	r := ranker.New(seed(t, 0.876), 0, 0, nil)
	got, _ := r.Rank(context.Background(), query, ranker.Filters{}, 0, 500)

	if got.Pagination.Page != 1 || got.Pagination.Limit != ranker.MaxPageSize {
		t.Errorf("page/limit = %d/%d, want clamped to 1/%d", got.Pagination.Page, got.Pagination.Limit, ranker.MaxPageSize)
	}
	j := got.Jobs[0]
	if j.MatchScore != 87 || j.Similarity != 0.876 {
		t.Errorf("score = %d similarity = %v, want 87 and 0.876", j.MatchScore, j.Similarity)
	}
	if len(j.Description) != 303 || !strings.HasSuffix(j.Description, "...") {
		t.Errorf("description snippet length = %d", len(j.Description))
	}
	if j.SalaryRange != "Not specified" {
		t.Errorf("SalaryRange = %q", j.SalaryRange)
	}
}

func TestRank_NoVector(t *testing.T) {
	r := ranker.New(store.NewMemory(), 0, 0, nil)
	if _, err := r.Rank(context.Background(), nil, ranker.Filters{}, 1, 10); !errors.Is(err, ranker.ErrProfileVectorMissing) {
		t.Errorf("err = %v, want ErrProfileVectorMissing", err)
	}
}

// recordingStore captures the search options it receives.
type recordingStore struct {
	*store.Memory
	opts store.SearchOptions
}

func (s *recordingStore) SearchJobs(ctx context.Context, q model.Vector, o store.SearchOptions) ([]store.Candidate, error) {
	s.opts = o
	return s.Memory.SearchJobs(ctx, q, o)
}

func TestRank_CandidatePool(t *testing.T) {
	cases := []struct {
		pageSize int
		want     int
	}{
		{5, 200},
		{20, 200},
		{50, 500},
	}
	for _, tc := range cases {
		rs := &recordingStore{Memory: store.NewMemory()}
		r := ranker.New(rs, 0, 0, nil)
		if _, err := r.Rank(context.Background(), query, ranker.Filters{}, 1, tc.pageSize); err != nil {
			t.Fatal(err)
		}
		if rs.opts.NumCandidates != tc.want {
			t.Errorf("pageSize %d: NumCandidates = %d, want %d", tc.pageSize, rs.opts.NumCandidates, tc.want)
		}
	}
}

// ── TopMatches ─────────────────────────────────────────────────────────────

func TestTopMatches_IgnoresMinScoreButSkipsInactive(t *testing.T) {
	m := seed(t, 0.2, 0.95, 0.1)
	ctx := context.Background()
	cands, _ := m.SearchJobs(ctx, query, store.SearchOptions{})
	_ = m.SetActive(ctx, cands[0].Job.ID, false, "closed") // the 0.95 job

	got, err := ranker.New(m, 0, 0, nil).TopMatches(ctx, query, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "Job 00" || got[1].Title != "Job 02" {
		t.Errorf("TopMatches = %+v", got)
	}
}

// ── Student entry points ───────────────────────────────────────────────────

func TestForStudent(t *testing.T) {
	m := seed(t, 0.9)
	ctx := context.Background()
	_ = m.SaveProfile(ctx, "with-vector", model.Profile{Branch: "Computer Science"}, true)
	_ = m.UpdateStudentVector(ctx, "with-vector", query, "test-model")
	_ = m.SaveProfile(ctx, "no-vector", model.Profile{Branch: "Civil"}, false)
	r := ranker.New(m, 0, 0, nil)

	got, err := r.ForStudent(ctx, "with-vector", ranker.Filters{MinScore: 0.5, ActiveOnly: true}, 1, 10)
	if err != nil {
		t.Fatalf("ForStudent: %v", err)
	}
	if got.StudentBranch != "Computer Science" || got.MatchingStrategy != ranker.MatchingStrategy || len(got.Jobs) != 1 {
		t.Errorf("ForStudent = %+v", got)
	}

	if _, err := r.ForStudent(ctx, "no-vector", ranker.Filters{}, 1, 10); !errors.Is(err, ranker.ErrProfileVectorMissing) {
		t.Errorf("no vector: err = %v", err)
	}
	if _, err := r.TopForStudent(ctx, "no-vector", 5); !errors.Is(err, ranker.ErrProfileVectorMissing) {
		t.Errorf("TopForStudent no vector: err = %v", err)
	}
	if _, err := r.ForStudent(ctx, "ghost", ranker.Filters{}, 1, 10); !errors.Is(err, ranker.ErrStudentNotFound) {
		t.Errorf("unknown student: err = %v", err)
	}

	top, err := r.TopForStudent(ctx, "with-vector", 5)
	if err != nil || top.Total != 1 {
		t.Errorf("TopForStudent = (%+v, %v)", top, err)
	}
}

func TestMatchScore(t *testing.T) {
	cases := []struct {
		sim  float64
		want int
	}{
		{0, 0},
		{0.29, 29},
		{0.876, 87},
		{0.999, 99},
		{1, 100},
		{-0.2, 0},
	}
	for _, tc := range cases {
		if got := ranker.MatchScore(tc.sim); got != tc.want {
			t.Errorf("MatchScore(%v) = %d, want %d", tc.sim, got, tc.want)
		}
	}
}
