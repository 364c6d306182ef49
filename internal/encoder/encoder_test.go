package encoder_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobmate/matching-service/internal/credentials"
	"jobmate/matching-service/internal/encoder"
	"jobmate/matching-service/internal/model"
)

const dim = 384

func newEncoder(load encoder.Loader, opts encoder.Options) *encoder.Encoder {
	if opts.Dimension == 0 {
		opts.Dimension = dim
	}
	opts.ModelName = "all-MiniLM-L6-v2"
	opts.Backoff = time.Millisecond
	return encoder.New(load, encoder.NewTextBuilder(defaultThresholds), opts, nil)
}

// scriptedModel fails the first failures calls, then delegates to hashing.
type scriptedModel struct {
	failures int32
	err      error
	calls    atomic.Int32
	inner    *encoder.HashingModel
}

func (m *scriptedModel) Dimension() int { return m.inner.Dimension() }

func (m *scriptedModel) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	if m.calls.Add(1) <= m.failures {
		return nil, m.err
	}
	return m.inner.Embed(ctx, texts)
}

func profile(branch string) *model.Profile { return &model.Profile{Branch: branch} }

func cosine(a, b model.Vector) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ── Identity ───────────────────────────────────────────────────────────────

func TestModelName_IncludesProviderAndDimension(t *testing.T) {
	cases := []struct {
		provider string
		dim      int
		want     string
	}{
		{"hashing", 384, "hashing/all-MiniLM-L6-v2/384"},
		{"openai", 384, "openai/all-MiniLM-L6-v2/384"},
		{"openai", 768, "openai/all-MiniLM-L6-v2/768"},
		{"", 384, "all-MiniLM-L6-v2/384"},
	}
	for _, tc := range cases {
		enc := newEncoder(encoder.HashingLoader(tc.dim), encoder.Options{Provider: tc.provider, Dimension: tc.dim})
		if got := enc.ModelName(); got != tc.want {
			t.Errorf("ModelName(%q, %d) = %q, want %q", tc.provider, tc.dim, got, tc.want)
		}
		if info := enc.Info(); info.ModelID != tc.want || info.ModelName != "all-MiniLM-L6-v2" {
			t.Errorf("Info = %+v", info)
		}
	}
}

// ── Encode ─────────────────────────────────────────────────────────────────

func TestEncode_ReturnsConfiguredDimension(t *testing.T) {
	enc := newEncoder(encoder.HashingLoader(dim), encoder.Options{})
	profiles := []model.Profile{
		{Branch: "Computer Science"},
		{TechnicalSkills: []string{"Go", "Kubernetes"}, Projects: "built a distributed cache"},
		{PreferredRoles: []string{"Data Analyst"}},
	}
	for _, p := range profiles {
		v, err := enc.Encode(context.Background(), encoder.ProfileRecord(&p))
		if err != nil {
			t.Fatalf("Encode(%+v) unexpected error: %v", p, err)
		}
		if len(v) != dim {
			t.Errorf("len(vector) = %d, want %d", len(v), dim)
		}
	}
}

func TestEncode_SimilarTextsScoreHigher(t *testing.T) {
	enc := newEncoder(encoder.HashingLoader(dim), encoder.Options{})
	ctx := context.Background()

	profile, _ := enc.Encode(ctx, encoder.ProfileRecord(&model.Profile{
		TechnicalSkills: []string{"python", "django", "postgresql"},
		PreferredRoles:  []string{"backend developer"},
	}))
	near, _ := enc.Encode(ctx, encoder.JobRecord(&model.Job{
		Title: "backend developer", SkillsRequired: "python, django, postgresql",
	}))
	far, _ := enc.Encode(ctx, encoder.JobRecord(&model.Job{
		Title: "mechanical draughtsman", SkillsRequired: "autocad, solidworks",
	}))

	if cosine(profile, near) <= cosine(profile, far) {
		t.Errorf("cos(near)=%.3f should exceed cos(far)=%.3f", cosine(profile, near), cosine(profile, far))
	}
}

func TestEncode_Deterministic(t *testing.T) {
	enc := newEncoder(encoder.HashingLoader(dim), encoder.Options{})
	rec := encoder.JobRecord(&model.Job{Title: "QA Engineer", Description: "manual and automated testing"})

	a, _ := enc.Encode(context.Background(), rec)
	b, _ := enc.Encode(context.Background(), rec)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs between identical encodes", i)
		}
	}
}

// ── Lazy load ──────────────────────────────────────────────────────────────

func TestEncode_LoadsOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	load := func(context.Context) (encoder.Model, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return encoder.NewHashingModel(dim), nil
	}
	enc := newEncoder(load, encoder.Options{Workers: 4})

	if got := enc.Info().Status; got != encoder.StatusNotLoaded {
		t.Errorf("status before first use = %q, want %q", got, encoder.StatusNotLoaded)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := enc.EncodeQuery(context.Background(), "go developer"); err != nil {
				t.Errorf("EncodeQuery unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("model loaded %d times, want 1", n)
	}
	if got := enc.Info().Status; got != encoder.StatusLoaded {
		t.Errorf("status = %q, want %q", got, encoder.StatusLoaded)
	}
}

func TestEncode_RetriesFailedLoad(t *testing.T) {
	var loads atomic.Int32
	load := func(context.Context) (encoder.Model, error) {
		if loads.Add(1) < 3 {
			return nil, errors.New("download interrupted")
		}
		return encoder.NewHashingModel(dim), nil
	}
	enc := newEncoder(load, encoder.Options{})
	rec := encoder.ProfileRecord(&model.Profile{Branch: "ECE"})

	for i := 0; i < 2; i++ {
		_, err := enc.Encode(context.Background(), rec)
		if !errors.Is(err, encoder.ErrModelUnavailable) {
			t.Fatalf("call %d: error = %v, want ErrModelUnavailable", i+1, err)
		}
		var encErr *encoder.EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("call %d: error %T is not an *EncodingError", i+1, err)
		}
	}
	if got := enc.Info().Status; got != encoder.StatusFailed {
		t.Errorf("status after failures = %q, want %q", got, encoder.StatusFailed)
	}

	if _, err := enc.Encode(context.Background(), rec); err != nil {
		t.Fatalf("third call should load successfully, got %v", err)
	}
	if n := loads.Load(); n != 3 {
		t.Errorf("loads = %d, want 3", n)
	}
}

func TestEncode_RejectsWrongDimensionModel(t *testing.T) {
	enc := newEncoder(encoder.HashingLoader(128), encoder.Options{Dimension: dim})
	_, err := enc.EncodeQuery(context.Background(), "anything")
	if !errors.Is(err, encoder.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

// ── Retries ────────────────────────────────────────────────────────────────

func TestEncode_RetriesTransientModelErrors(t *testing.T) {
	m := &scriptedModel{failures: 2, err: errors.New("connection reset"), inner: encoder.NewHashingModel(dim)}
	enc := newEncoder(func(context.Context) (encoder.Model, error) { return m, nil }, encoder.Options{MaxRetries: 3})

	if _, err := enc.EncodeQuery(context.Background(), "retry me"); err != nil {
		t.Fatalf("EncodeQuery unexpected error: %v", err)
	}
	if n := m.calls.Load(); n != 3 {
		t.Errorf("model calls = %d, want 3", n)
	}
}

func TestEncode_GivesUpAfterMaxRetries(t *testing.T) {
	m := &scriptedModel{failures: 100, err: errors.New("connection reset"), inner: encoder.NewHashingModel(dim)}
	enc := newEncoder(func(context.Context) (encoder.Model, error) { return m, nil }, encoder.Options{MaxRetries: 2})

	_, err := enc.EncodeQuery(context.Background(), "never works")
	var encErr *encoder.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("error = %v, want *EncodingError", err)
	}
	if n := m.calls.Load(); n != 3 {
		t.Errorf("model calls = %d, want 3 (1 + 2 retries)", n)
	}
}

func TestEncode_ExhaustedCredentialsNotRetried(t *testing.T) {
	m := &scriptedModel{failures: 100, err: credentials.ErrAllCredentialsExhausted, inner: encoder.NewHashingModel(dim)}
	enc := newEncoder(func(context.Context) (encoder.Model, error) { return m, nil }, encoder.Options{MaxRetries: 3})

	_, err := enc.EncodeQuery(context.Background(), "rate limited")
	if !errors.Is(err, credentials.ErrAllCredentialsExhausted) {
		t.Errorf("error = %v, want ErrAllCredentialsExhausted", err)
	}
	if n := m.calls.Load(); n != 1 {
		t.Errorf("model calls = %d, want 1", n)
	}
}

type slowModel struct{ inner *encoder.HashingModel }

func (m slowModel) Dimension() int { return m.inner.Dimension() }

func (m slowModel) Embed(ctx context.Context, _ []string) ([]model.Vector, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEncode_AttemptTimeoutIsEncodingError(t *testing.T) {
	m := slowModel{inner: encoder.NewHashingModel(dim)}
	enc := newEncoder(func(context.Context) (encoder.Model, error) { return m, nil },
		encoder.Options{Timeout: 10 * time.Millisecond})

	_, err := enc.EncodeQuery(context.Background(), "slow")
	var encErr *encoder.EncodingError
	if !errors.As(err, &encErr) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want *EncodingError wrapping DeadlineExceeded", err)
	}
}

// ── Batch ──────────────────────────────────────────────────────────────────

func TestEncodeBatch_DropsEmptyRecords(t *testing.T) {
	enc := newEncoder(encoder.HashingLoader(dim), encoder.Options{BatchSize: 2})
	recs := []encoder.Record{
		encoder.ProfileRecord(&model.Profile{Branch: "CS"}),
		encoder.ProfileRecord(&model.Profile{FullName: "nothing encodable"}),
		encoder.JobRecord(&model.Job{Title: "Intern"}),
		encoder.JobRecord(&model.Job{Company: "only metadata"}),
		encoder.JobRecord(&model.Job{Title: "Analyst"}),
	}

	vecs, err := enc.EncodeBatch(context.Background(), recs)
	if err != nil {
		t.Fatalf("EncodeBatch unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len(vecs) = %d, want 3", len(vecs))
	}

	// Position i matches the i-th encodable record.
	var kept []encoder.Record
	for _, r := range recs {
		if enc.Encodable(r) {
			kept = append(kept, r)
		}
	}
	for i, r := range kept {
		single, _ := enc.Encode(context.Background(), r)
		if cosine(single, vecs[i]) < 0.9999 {
			t.Errorf("batch vector %d does not match its single encode", i)
		}
	}
}

func TestEncodeBatch_AllEmpty(t *testing.T) {
	enc := newEncoder(encoder.HashingLoader(dim), encoder.Options{})
	vecs, err := enc.EncodeBatch(context.Background(), []encoder.Record{
		encoder.JobRecord(&model.Job{}),
	})
	if err != nil || len(vecs) != 0 {
		t.Errorf("EncodeBatch(all empty) = (%d vectors, %v), want (0, nil)", len(vecs), err)
	}
}

func TestEncodeQuery_EmptyUsesFallback(t *testing.T) {
	enc := newEncoder(encoder.HashingLoader(dim), encoder.Options{})
	a, err := enc.EncodeQuery(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := enc.EncodeQuery(context.Background(), encoder.FallbackQuery)
	if cosine(a, b) < 0.9999 {
		t.Error("empty query should encode as the fallback phrase")
	}
}
