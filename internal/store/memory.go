package store

import (
	"context"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmate/matching-service/internal/model"
)

// Memory is an in-process store. Search is brute-force cosine over all
// stored vectors; ties keep insertion order.
type Memory struct {
	mu       sync.RWMutex
	now      func() time.Time
	jobs     []*model.Job // insertion order
	byID     map[string]*model.Job
	students map[string]*model.Student
}

// NewMemory returns an empty store using the wall clock.
func NewMemory() *Memory { return NewMemoryWithClock(time.Now) }

// NewMemoryWithClock returns an empty store stamping CreatedAt from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		now:      now,
		byID:     make(map[string]*model.Job),
		students: make(map[string]*model.Student),
	}
}

// Ping implements the readiness probe.
func (m *Memory) Ping(context.Context) error { return nil }

// ─── Jobs ─────────────────────────────────────────────────────────────────────

// JobExists reports whether a job with key is stored.
func (m *Memory) JobExists(_ context.Context, key model.IngestKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findKey(key) != nil, nil
}

// InsertJobIfAbsent stores job unless its key already exists. The check and
// the write are atomic.
func (m *Memory) InsertJobIfAbsent(_ context.Context, job *model.Job) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findKey(job.Key()) != nil {
		return "", false, nil
	}
	j := cloneJob(job)
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = m.now()
	}
	m.jobs = append(m.jobs, j)
	m.byID[j.ID] = j
	return j.ID, true, nil
}

func (m *Memory) findKey(key model.IngestKey) *model.Job {
	for _, j := range m.jobs {
		if j.Key() == key {
			return j
		}
	}
	return nil
}

// GetJob returns a copy of the job with id.
func (m *Memory) GetJob(_ context.Context, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

// UpdateJobVector replaces the job's vector and model name.
func (m *Memory) UpdateJobVector(_ context.Context, id string, v model.Vector, modelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	j.Vector = append(model.Vector(nil), v...)
	j.EmbeddingModel = modelName
	j.EmbeddingGeneratedAt = timePtr(m.now())
	return nil
}

// SetBookmarked flags or unflags a job as bookmarked.
func (m *Memory) SetBookmarked(_ context.Context, id string, bookmarked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	j.IsBookmarked = bookmarked
	return nil
}

// SetActive opens or closes a job.
func (m *Memory) SetActive(_ context.Context, id string, active bool, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	j.IsActive = active
	j.Status = status
	return nil
}

// SearchJobs returns jobs with a vector ordered by similarity to query.
func (m *Memory) SearchJobs(ctx context.Context, query model.Vector, opts SearchOptions) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Candidate, 0, len(m.jobs))
	for _, j := range m.jobs {
		if len(j.Vector) == 0 || len(j.Vector) != len(query) {
			continue
		}
		c := Candidate{Job: *cloneJob(j), Similarity: clampSimilarity(cosine(query, j.Vector))}
		c.Job.Vector = nil
		out = append(out, c)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Similarity > out[b].Similarity })

	if limit := candidateLimit(opts); limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// JobsByKeywords returns one page of active jobs matching q, newest first,
// and the total number of matches.
func (m *Memory) JobsByKeywords(ctx context.Context, q KeywordQuery) ([]model.Job, int, error) {
	pattern := q.pattern()
	if pattern == "" {
		return nil, 0, ctx.Err()
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	var matched []model.Job
	for _, j := range m.jobs {
		if !j.Active() {
			continue
		}
		if re.MatchString(j.Title) || re.MatchString(j.Description) || re.MatchString(j.SkillsRequired) {
			c := cloneJob(j)
			c.Vector = nil
			matched = append(matched, *c)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(a, b int) bool { return matched[a].PostedAt.After(matched[b].PostedAt) })
	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 && q.Limit < total-start {
		end = start + q.Limit
	}
	return matched[start:end], total, nil
}

// DeleteStaleJobs deletes unbookmarked jobs posted before cutoff that were
// stored no later than startedAt.
func (m *Memory) DeleteStaleJobs(_ context.Context, cutoff, startedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.jobs[:0]
	var deleted int64
	for _, j := range m.jobs {
		if j.PostedAt.Before(cutoff) && !j.IsBookmarked && !j.CreatedAt.After(startedAt) {
			delete(m.byID, j.ID)
			deleted++
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(m.jobs); i++ {
		m.jobs[i] = nil
	}
	m.jobs = kept
	return deleted, nil
}

// JobStats summarises stored jobs relative to now.
func (m *Memory) JobStats(_ context.Context, now time.Time) (JobStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := JobStats{BySource: map[string]int64{}, ByType: map[string]int64{}}
	for _, j := range m.jobs {
		s.Total++
		if j.Active() {
			s.Active++
		}
		if !j.CreatedAt.Before(now.Add(-24 * time.Hour)) {
			s.Recent24h++
		}
		s.BySource[j.Source]++
		s.ByType[j.JobType]++
	}
	return s, nil
}

// JobsWithStaleModel returns up to limit jobs whose vector is missing or was
// produced by a model other than modelName.
func (m *Memory) JobsWithStaleModel(_ context.Context, modelName string, limit int) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Job
	for _, j := range m.jobs {
		if len(out) == limit {
			break
		}
		if len(j.Vector) == 0 || j.EmbeddingModel != modelName {
			out = append(out, *cloneJob(j))
		}
	}
	return out, nil
}

// ─── Students ─────────────────────────────────────────────────────────────────

// GetStudent returns a copy of the student with id.
func (m *Memory) GetStudent(_ context.Context, id string) (*model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneStudent(s), nil
}

// SaveProfile creates or replaces a student's profile, keeping its vector.
func (m *Memory) SaveProfile(_ context.Context, id string, p model.Profile, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		s = &model.Student{ID: id}
		m.students[id] = s
	}
	s.Profile = p
	s.ProfileCompleted = completed
	return nil
}

// UpdateStudentVector replaces the student's profile vector.
func (m *Memory) UpdateStudentVector(_ context.Context, id string, v model.Vector, modelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return ErrNotFound
	}
	s.Vector = append(model.Vector(nil), v...)
	s.EmbeddingModel = modelName
	s.EmbeddingUpdatedAt = timePtr(m.now())
	return nil
}

// CompletedProfiles returns every profile marked completed.
func (m *Memory) CompletedProfiles(context.Context) ([]model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Profile
	for _, s := range m.sortedStudents() {
		if s.ProfileCompleted {
			out = append(out, s.Profile)
		}
	}
	return out, nil
}

// StudentsWithStaleModel returns up to limit students whose vector is missing
// or was produced by a model other than modelName.
func (m *Memory) StudentsWithStaleModel(_ context.Context, modelName string, limit int) ([]model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Student
	for _, s := range m.sortedStudents() {
		if len(out) == limit {
			break
		}
		if len(s.Vector) == 0 || s.EmbeddingModel != modelName {
			out = append(out, *cloneStudent(s))
		}
	}
	return out, nil
}

func (m *Memory) sortedStudents() []*model.Student {
	out := make([]*model.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.Vector = append(model.Vector(nil), j.Vector...)
	if len(j.Vector) == 0 {
		c.Vector = nil
	}
	return &c
}

func cloneStudent(s *model.Student) *model.Student {
	c := *s
	c.Vector = append(model.Vector(nil), s.Vector...)
	if len(s.Vector) == 0 {
		c.Vector = nil
	}
	return &c
}

func cosine(a, b model.Vector) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
