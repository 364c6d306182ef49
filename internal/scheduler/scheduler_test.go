package scheduler_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/scheduler"
	"jobmate/matching-service/internal/scraper"
)

type fakeProfiles struct {
	profiles []model.Profile
	err      error
}

func (f fakeProfiles) CompletedProfiles(context.Context) ([]model.Profile, error) {
	return f.profiles, f.err
}

type fakeIngester struct {
	terms   []string
	block   chan struct{}
	started chan struct{}
}

func (f *fakeIngester) IngestAll(ctx context.Context, terms []string, _ string, _ int) (scraper.Stats, error) {
	f.terms = terms
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return scraper.Stats{TotalSaved: len(terms)}, nil
}

type fakeSweeper struct {
	days    int
	deleted int64
	err     error
}

func (f *fakeSweeper) Sweep(_ context.Context, days int) (int64, error) {
	f.days = days
	return f.deleted, f.err
}

var cfg = scheduler.Config{Spec: "@every 12h", Location: "India", PerTerm: 15, MaxTerms: 30, RetentionDays: 7}

func TestRunCycle_IngestsThenSweeps(t *testing.T) {
	ing := &fakeIngester{}
	sw := &fakeSweeper{deleted: 4}
	profiles := fakeProfiles{profiles: []model.Profile{{PreferredRoles: []string{"Backend Developer"}}}}
	s := scheduler.New(nil, profiles, ing, sw, cfg, nil)

	res, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	want := []string{"backend developer", "backend developer fresher", "backend developer intern"}
	if !slices.Equal(ing.terms, want) || !slices.Equal(res.Terms, want) {
		t.Errorf("terms = %q, want %q", ing.terms, want)
	}
	if sw.days != 7 || res.Deleted != 4 || res.Ingest.TotalSaved != 3 {
		t.Errorf("result = %+v, sweep days = %d", res, sw.days)
	}
}

func TestRunCycle_ProfileErrorFallsBackToDefaults(t *testing.T) {
	ing := &fakeIngester{}
	s := scheduler.New(nil, fakeProfiles{err: errors.New("db down")}, ing, &fakeSweeper{}, cfg, nil)

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !slices.Equal(ing.terms, scraper.DefaultSearchTerms) {
		t.Errorf("terms = %q, want defaults", ing.terms)
	}
}

func TestRunCycle_SweepErrorReturned(t *testing.T) {
	s := scheduler.New(nil, fakeProfiles{}, &fakeIngester{}, &fakeSweeper{err: errors.New("timeout")}, cfg, nil)
	res, err := s.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected sweep error")
	}
	if res == nil || len(res.Terms) == 0 {
		t.Error("ingest result should still be returned")
	}
}

func TestRunCycle_NoOverlap(t *testing.T) {
	ing := &fakeIngester{block: make(chan struct{}), started: make(chan struct{})}
	s := scheduler.New(nil, fakeProfiles{}, ing, &fakeSweeper{}, cfg, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunCycle(context.Background())
		done <- err
	}()
	<-ing.started

	if _, err := s.RunCycle(context.Background()); !errors.Is(err, scheduler.ErrCycleInProgress) {
		t.Errorf("second cycle err = %v, want ErrCycleInProgress", err)
	}
	close(ing.block)
	if err := <-done; err != nil {
		t.Errorf("first cycle: %v", err)
	}
}

func TestIngestAll_SharesCycleLock(t *testing.T) {
	ing := &fakeIngester{block: make(chan struct{}), started: make(chan struct{})}
	s := scheduler.New(nil, fakeProfiles{}, ing, &fakeSweeper{}, cfg, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunCycle(context.Background())
		done <- err
	}()
	<-ing.started

	if _, err := s.IngestAll(context.Background(), []string{"go developer"}, "India", 5); !errors.Is(err, scheduler.ErrCycleInProgress) {
		t.Errorf("manual ingest during cycle err = %v, want ErrCycleInProgress", err)
	}
	close(ing.block)
	if err := <-done; err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// The lock is free again once the cycle returns.
	ing2 := &fakeIngester{}
	s2 := scheduler.New(nil, fakeProfiles{}, ing2, &fakeSweeper{}, cfg, nil)
	stats, err := s2.IngestAll(context.Background(), []string{"go developer"}, "India", 5)
	if err != nil {
		t.Fatalf("IngestAll: %v", err)
	}
	if stats.TotalSaved != 1 || !slices.Equal(ing2.terms, []string{"go developer"}) {
		t.Errorf("stats = %+v, terms = %q", stats, ing2.terms)
	}
	if _, err := s2.RunCycle(context.Background()); err != nil {
		t.Errorf("cycle after manual ingest: %v", err)
	}
}

func TestRunCycle_LockUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer rdb.Close()
	ing := &fakeIngester{}
	s := scheduler.New(rdb, fakeProfiles{}, ing, &fakeSweeper{}, cfg, nil)

	if _, err := s.RunCycle(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
	if ing.terms != nil {
		t.Error("ingest ran without the lock")
	}
}

func TestStart_InvalidSpec(t *testing.T) {
	bad := cfg
	bad.Spec = "every now and then"
	s := scheduler.New(nil, fakeProfiles{}, &fakeIngester{}, &fakeSweeper{}, bad, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected cron spec error")
	}
}
