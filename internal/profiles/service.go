// Package profiles keeps profile and job vectors in step with their text.
//
// Profile writes never fail because of the encoder: the vector is refreshed
// best-effort and any encoding problem is reported next to the saved profile.
// Explicit regenerate requests are the opposite and fail hard.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/encoder"
	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/store"
)

// ErrNotFound is returned when the student or job does not exist.
var ErrNotFound = errors.New("not found")

// Store is the storage the service reads and writes.
type Store interface {
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	SaveProfile(ctx context.Context, id string, p model.Profile, completed bool) error
	UpdateStudentVector(ctx context.Context, id string, v model.Vector, modelName string) error
	StudentsWithStaleModel(ctx context.Context, modelName string, limit int) ([]model.Student, error)

	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJobVector(ctx context.Context, id string, v model.Vector, modelName string) error
	JobsWithStaleModel(ctx context.Context, modelName string, limit int) ([]model.Job, error)
}

// Encoder produces vectors for records.
type Encoder interface {
	Encode(ctx context.Context, rec encoder.Record) (model.Vector, error)
	EncodeBatch(ctx context.Context, recs []encoder.Record) ([]model.Vector, error)
	Encodable(rec encoder.Record) bool
	ModelName() string
}

// UpdateResult reports a profile write and the state of its vector.
// EmbeddingError is set only when the vector could not be refreshed; the
// profile itself is saved regardless.
type UpdateResult struct {
	StudentID        string `json:"student_id"`
	ProfileCompleted bool   `json:"profile_completed"`
	EmbeddingUpdated bool   `json:"embedding_updated"`
	EmbeddingError   string `json:"embedding_error,omitempty"`
}

// EmbeddingResult describes a freshly stored vector.
type EmbeddingResult struct {
	ID          string    `json:"id"`
	Model       string    `json:"embedding_model"`
	Dimension   int       `json:"dimension"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ReembedStats counts a stale-model pass.
type ReembedStats struct {
	Jobs     int `json:"jobs"`
	Students int `json:"students"`
}

// Service coordinates profile and job vector updates.
type Service struct {
	store  Store
	enc    Encoder
	now    func() time.Time
	logger *zap.Logger
}

// NewService returns a Service.
func NewService(st Store, enc Encoder, log *zap.Logger) *Service {
	return &Service{store: st, enc: enc, now: time.Now, logger: logger.OrNop(log).Named("profiles")}
}

// UpdateProfile saves p for studentID and then refreshes its vector. Only a
// storage failure on the profile write is returned as an error.
func (s *Service) UpdateProfile(ctx context.Context, studentID string, p model.Profile, completed bool) (*UpdateResult, error) {
	if err := s.store.SaveProfile(ctx, studentID, p, completed); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	res := &UpdateResult{StudentID: studentID, ProfileCompleted: completed}
	s.refresh(ctx, studentID, &p, res)
	return res, nil
}

// Refresh re-encodes the stored profile of studentID, degrading like
// UpdateProfile when the encoder fails.
func (s *Service) Refresh(ctx context.Context, studentID string) (*UpdateResult, error) {
	st, err := s.getStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	res := &UpdateResult{StudentID: studentID, ProfileCompleted: st.ProfileCompleted}
	s.refresh(ctx, studentID, &st.Profile, res)
	return res, nil
}

func (s *Service) refresh(ctx context.Context, studentID string, p *model.Profile, res *UpdateResult) {
	vec, err := s.enc.Encode(ctx, encoder.ProfileRecord(p))
	if err == nil {
		err = s.store.UpdateStudentVector(ctx, studentID, vec, s.enc.ModelName())
	}
	if err != nil {
		res.EmbeddingError = err.Error()
		s.logger.Warn("profile saved without fresh vector",
			zap.String("student_id", studentID),
			zap.Error(err),
		)
		return
	}
	res.EmbeddingUpdated = true
}

// RegenerateStudent recomputes and stores the profile vector of studentID.
// Encoding failures are returned.
func (s *Service) RegenerateStudent(ctx context.Context, studentID string) (*EmbeddingResult, error) {
	st, err := s.getStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	vec, err := s.enc.Encode(ctx, encoder.ProfileRecord(&st.Profile))
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateStudentVector(ctx, studentID, vec, s.enc.ModelName()); err != nil {
		return nil, fmt.Errorf("store profile vector: %w", err)
	}
	return s.result(studentID, vec), nil
}

// RegenerateJob recomputes and stores the vector of job id. Encoding
// failures are returned.
func (s *Service) RegenerateJob(ctx context.Context, id string) (*EmbeddingResult, error) {
	j, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	vec, err := s.enc.Encode(ctx, encoder.JobRecord(j))
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateJobVector(ctx, id, vec, s.enc.ModelName()); err != nil {
		return nil, fmt.Errorf("store job vector: %w", err)
	}
	return s.result(id, vec), nil
}

// ReembedStale regenerates every job and profile vector that is missing or
// was produced by a different model, batchSize records at a time.
func (s *Service) ReembedStale(ctx context.Context, batchSize int) (ReembedStats, error) {
	var stats ReembedStats
	if batchSize <= 0 {
		batchSize = 100
	}
	modelName := s.enc.ModelName()

	for {
		jobs, err := s.store.JobsWithStaleModel(ctx, modelName, batchSize)
		if err != nil {
			return stats, fmt.Errorf("list stale jobs: %w", err)
		}
		if len(jobs) == 0 {
			break
		}
		recs := make([]encoder.Record, len(jobs))
		for i := range jobs {
			recs[i] = encoder.JobRecord(&jobs[i])
		}
		vecs, err := s.encodeAll(ctx, recs)
		if err != nil {
			return stats, err
		}
		for i := range jobs {
			if err := s.store.UpdateJobVector(ctx, jobs[i].ID, vecs[i], modelName); err != nil {
				return stats, fmt.Errorf("store job vector: %w", err)
			}
		}
		stats.Jobs += len(jobs)
	}

	for {
		students, err := s.store.StudentsWithStaleModel(ctx, modelName, batchSize)
		if err != nil {
			return stats, fmt.Errorf("list stale profiles: %w", err)
		}
		if len(students) == 0 {
			break
		}
		recs := make([]encoder.Record, len(students))
		for i := range students {
			recs[i] = encoder.ProfileRecord(&students[i].Profile)
		}
		vecs, err := s.encodeAll(ctx, recs)
		if err != nil {
			return stats, err
		}
		for i := range students {
			if err := s.store.UpdateStudentVector(ctx, students[i].ID, vecs[i], modelName); err != nil {
				return stats, fmt.Errorf("store profile vector: %w", err)
			}
		}
		stats.Students += len(students)
	}

	s.logger.Info("stale vectors regenerated",
		zap.String("model", modelName),
		zap.Int("jobs", stats.Jobs),
		zap.Int("students", stats.Students),
	)
	return stats, nil
}

// encodeAll returns one vector per record. Encodable records go through a
// single EncodeBatch call; the batch result lines up with the encodable
// subset only, so positions are mapped back here. The rest are encoded from
// their fallback phrase so every record ends up with a current vector.
func (s *Service) encodeAll(ctx context.Context, recs []encoder.Record) ([]model.Vector, error) {
	out := make([]model.Vector, len(recs))
	idx := make([]int, 0, len(recs))
	for i, rec := range recs {
		if s.enc.Encodable(rec) {
			idx = append(idx, i)
		}
	}

	batch, err := s.enc.EncodeBatch(ctx, recs)
	if err != nil {
		return nil, err
	}
	if len(batch) != len(idx) {
		return nil, fmt.Errorf("encode batch: got %d vectors for %d records", len(batch), len(idx))
	}
	for k, i := range idx {
		out[i] = batch[k]
	}

	for i := range out {
		if out[i] != nil {
			continue
		}
		vec, err := s.enc.Encode(ctx, recs[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *Service) getStudent(ctx context.Context, id string) (*model.Student, error) {
	st, err := s.store.GetStudent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	return st, nil
}

func (s *Service) result(id string, vec model.Vector) *EmbeddingResult {
	return &EmbeddingResult{
		ID:          id,
		Model:       s.enc.ModelName(),
		Dimension:   len(vec),
		GeneratedAt: s.now().UTC(),
	}
}
