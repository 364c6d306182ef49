package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose
	"github.com/pgvector/pgvector-go"
	"github.com/pressly/goose/v3"

	"jobmate/matching-service/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// maxEfSearch is the largest hnsw.ef_search pgvector accepts.
const maxEfSearch = 1000

// Migrate applies the embedded schema migrations. It opens its own
// connection so it can run before the vector type exists.
func Migrate(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Postgres stores jobs and students in PostgreSQL with pgvector columns.
// The pool must have the vector types registered (see db.NewPostgresPool).
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgres wraps pool. Every call is bounded by timeout.
func NewPostgres(pool *pgxpool.Pool, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Postgres{pool: pool, timeout: timeout}
}

func (p *Postgres) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// Ping implements the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

// CheckDimension fails when the stored vector columns were created for a
// different dimension than dim.
func (p *Postgres) CheckDimension(ctx context.Context, dim int) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	var typmod int
	err := p.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'jobs'::regclass AND attname = 'job_embedding'`,
	).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("read vector dimension: %w", err)
	}
	if typmod > 0 && typmod != dim {
		return fmt.Errorf("jobs.job_embedding is vector(%d) but EMBEDDING_DIMENSION is %d", typmod, dim)
	}
	return nil
}

// IndexStatus reports whether the HNSW similarity index exists.
type IndexStatus struct {
	Index  string `json:"index"`
	Exists bool   `json:"exists"`
}

// VectorIndexStatus probes the jobs similarity index.
func (p *Postgres) VectorIndexStatus(ctx context.Context) (IndexStatus, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	st := IndexStatus{Index: "jobs_embedding_hnsw_idx"}
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'jobs' AND indexname = $1)`,
		st.Index,
	).Scan(&st.Exists)
	if err != nil {
		return st, fmt.Errorf("probe vector index: %w", err)
	}
	return st, nil
}

// ─── Jobs ─────────────────────────────────────────────────────────────────────

const jobColumns = `id::text, title, company, location, description, requirements,
	skills_required, job_type, salary_range, experience_required, job_url, source,
	posted_at, scraped_at, created_at, is_active, status, is_bookmarked, raw_data,
	embedding_model, embedding_generated_at`

func scanJob(row pgx.Row, extra ...any) (*model.Job, error) {
	var (
		j         model.Job
		scrapedAt *time.Time
		raw       []byte
		modelName *string
	)
	dest := []any{
		&j.ID, &j.Title, &j.Company, &j.Location, &j.Description, &j.Requirements,
		&j.SkillsRequired, &j.JobType, &j.SalaryRange, &j.ExperienceRequired, &j.JobURL, &j.Source,
		&j.PostedAt, &scrapedAt, &j.CreatedAt, &j.IsActive, &j.Status, &j.IsBookmarked, &raw,
		&modelName, &j.EmbeddingGeneratedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if scrapedAt != nil {
		j.ScrapedAt = *scrapedAt
	}
	if modelName != nil {
		j.EmbeddingModel = *modelName
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &j.Raw); err != nil {
			return nil, fmt.Errorf("decode raw_data: %w", err)
		}
	}
	return &j, nil
}

// JobExists reports whether a job with key is stored.
func (p *Postgres) JobExists(ctx context.Context, key model.IngestKey) (bool, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE title = $1 AND company = $2 AND location = $3)`,
		key.Title, key.Company, key.Location,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ingest key: %w", err)
	}
	return exists, nil
}

// InsertJobIfAbsent inserts job unless a row with the same natural key
// exists, in one statement. inserted is false for a duplicate.
func (p *Postgres) InsertJobIfAbsent(ctx context.Context, job *model.Job) (id string, inserted bool, err error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	raw, err := json.Marshal(job.Raw)
	if err != nil {
		return "", false, fmt.Errorf("encode raw_data: %w", err)
	}
	var vec *pgvector.Vector
	var modelName *string
	if len(job.Vector) > 0 {
		v := pgvector.NewVector(job.Vector)
		vec = &v
		modelName = &job.EmbeddingModel
	}

	err = p.pool.QueryRow(ctx,
		`INSERT INTO jobs (title, company, location, description, requirements,
		                   skills_required, job_type, salary_range, experience_required,
		                   job_url, source, posted_at, scraped_at, is_active, status,
		                   raw_data, job_embedding, embedding_model, embedding_generated_at)
		 SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text,
		        $8::text, $9::text, $10::text, $11::text, $12::timestamptz, $13::timestamptz,
		        $14::boolean, $15::text, $16::jsonb, $17::vector, $18::text, $19::timestamptz
		 WHERE NOT EXISTS (
		   SELECT 1 FROM jobs WHERE title = $1::text AND company = $2::text AND location = $3::text
		 )
		 RETURNING id::text`,
		job.Title, job.Company, job.Location, job.Description, job.Requirements,
		job.SkillsRequired, job.JobType, job.SalaryRange, job.ExperienceRequired,
		job.JobURL, job.Source, job.PostedAt, job.ScrapedAt, job.IsActive, job.Status,
		string(raw), vec, modelName, job.EmbeddingGeneratedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	return id, true, nil
}

// GetJob returns the job with id, including its vector.
func (p *Postgres) GetJob(ctx context.Context, id string) (*model.Job, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	var vec *pgvector.Vector
	j, err := scanJob(p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`, job_embedding FROM jobs WHERE id::text = $1`, id,
	), &vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if vec != nil {
		j.Vector = vec.Slice()
	}
	return j, nil
}

// UpdateJobVector replaces the job's vector and model name.
func (p *Postgres) UpdateJobVector(ctx context.Context, id string, v model.Vector, modelName string) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`UPDATE jobs SET job_embedding = $1, embedding_model = $2, embedding_generated_at = NOW()
		 WHERE id::text = $3`,
		pgvector.NewVector(v), modelName, id,
	)
	if err != nil {
		return fmt.Errorf("update job vector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// searchJobsQuery orders by distance alone so the HNSW index can serve it.
// Equal distances come back in index order.
const searchJobsQuery = `SELECT ` + jobColumns + `, 1 - (job_embedding <=> $1) AS similarity
	FROM jobs
	WHERE job_embedding IS NOT NULL
	ORDER BY job_embedding <=> $1
	LIMIT $2`

// SearchJobs returns jobs ordered by cosine distance to query. The HNSW
// candidate list is widened to NumCandidates for this query only.
func (p *Postgres) SearchJobs(ctx context.Context, query model.Vector, opts SearchOptions) ([]Candidate, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin search: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ef := min(max(opts.NumCandidates, 40), maxEfSearch)
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", ef)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.Query(ctx, searchJobsQuery, pgvector.NewVector(query), candidateLimit(opts))
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var sim float64
		j, err := scanJob(rows, &sim)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, Candidate{Job: *j, Similarity: clampSimilarity(sim)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return out, nil
}

const keywordMatch = `is_active AND status = 'active'
	AND (title ~* $1 OR description ~* $1 OR skills_required ~* $1)`

// JobsByKeywords returns one page of active jobs matching q and the total
// number of matches.
func (p *Postgres) JobsByKeywords(ctx context.Context, q KeywordQuery) ([]model.Job, int, error) {
	pattern := q.pattern()
	if pattern == "" {
		return nil, 0, nil
	}
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE `+keywordMatch, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count keyword jobs: %w", err)
	}
	if total == 0 || q.Offset >= total {
		return nil, total, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE `+keywordMatch+`
		 ORDER BY posted_at DESC, id
		 LIMIT $2 OFFSET $3`,
		pattern, q.Limit, q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("keyword jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("keyword jobs: %w", err)
	}
	return out, total, nil
}

// DeleteStaleJobs deletes unbookmarked jobs posted before cutoff that were
// stored no later than startedAt.
func (p *Postgres) DeleteStaleJobs(ctx context.Context, cutoff, startedAt time.Time) (int64, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM jobs
		 WHERE posted_at < $1
		   AND created_at <= $2
		   AND is_bookmarked IS NOT TRUE`,
		cutoff, startedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// JobStats summarises the jobs table relative to now.
func (p *Postgres) JobStats(ctx context.Context, now time.Time) (JobStats, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	s := JobStats{BySource: map[string]int64{}, ByType: map[string]int64{}}

	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE is_active AND status = 'active'),
		        COUNT(*) FILTER (WHERE created_at >= $1)
		 FROM jobs`,
		now.Add(-24*time.Hour),
	).Scan(&s.Total, &s.Active, &s.Recent24h)
	if err != nil {
		return s, fmt.Errorf("job totals: %w", err)
	}

	groups := []struct {
		column string
		into   map[string]int64
	}{
		{"source", s.BySource},
		{"job_type", s.ByType},
	}
	for _, g := range groups {
		rows, err := p.pool.Query(ctx, `SELECT `+g.column+`, COUNT(*) FROM jobs GROUP BY 1`)
		if err != nil {
			return s, fmt.Errorf("jobs by %s: %w", g.column, err)
		}
		for rows.Next() {
			var k string
			var n int64
			if err := rows.Scan(&k, &n); err != nil {
				rows.Close()
				return s, fmt.Errorf("jobs by %s: %w", g.column, err)
			}
			g.into[k] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return s, fmt.Errorf("jobs by %s: %w", g.column, err)
		}
	}
	return s, nil
}

// JobsWithStaleModel returns up to limit jobs whose vector is missing or was
// produced by another model.
func (p *Postgres) JobsWithStaleModel(ctx context.Context, modelName string, limit int) ([]model.Job, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE job_embedding IS NULL OR embedding_model IS DISTINCT FROM $1
		 ORDER BY created_at, id
		 LIMIT $2`,
		modelName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stale job vectors: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ─── Students ─────────────────────────────────────────────────────────────────

func scanStudent(row pgx.Row) (*model.Student, error) {
	var (
		s         model.Student
		raw       []byte
		vec       *pgvector.Vector
		modelName *string
	)
	if err := row.Scan(&s.ID, &raw, &s.ProfileCompleted, &vec, &modelName, &s.EmbeddingUpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if vec != nil {
		s.Vector = vec.Slice()
	}
	if modelName != nil {
		s.EmbeddingModel = *modelName
	}
	return &s, nil
}

const studentColumns = `id, profile, profile_completed, profile_embedding, embedding_model, embedding_updated_at`

// GetStudent returns the student with id.
func (p *Postgres) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	s, err := scanStudent(p.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return s, nil
}

// SaveProfile creates or replaces a student's profile, keeping its vector.
func (p *Postgres) SaveProfile(ctx context.Context, id string, profile model.Profile, completed bool) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO students (id, profile, profile_completed)
		 VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET profile = EXCLUDED.profile,
		     profile_completed = EXCLUDED.profile_completed,
		     updated_at = NOW()`,
		id, string(raw), completed,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// UpdateStudentVector replaces the student's profile vector.
func (p *Postgres) UpdateStudentVector(ctx context.Context, id string, v model.Vector, modelName string) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`UPDATE students
		 SET profile_embedding = $1, embedding_model = $2, embedding_updated_at = NOW()
		 WHERE id = $3`,
		pgvector.NewVector(v), modelName, id,
	)
	if err != nil {
		return fmt.Errorf("update profile vector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompletedProfiles returns every profile marked completed.
func (p *Postgres) CompletedProfiles(ctx context.Context) ([]model.Profile, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT profile FROM students WHERE profile_completed ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("completed profiles: %w", err)
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		var prof model.Profile
		if err := json.Unmarshal(raw, &prof); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		out = append(out, prof)
	}
	return out, rows.Err()
}

// StudentsWithStaleModel returns up to limit students whose vector is missing
// or was produced by another model.
func (p *Postgres) StudentsWithStaleModel(ctx context.Context, modelName string, limit int) ([]model.Student, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT `+studentColumns+` FROM students
		 WHERE profile_embedding IS NULL OR embedding_model IS DISTINCT FROM $1
		 ORDER BY id
		 LIMIT $2`,
		modelName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stale profile vectors: %w", err)
	}
	defer rows.Close()

	var out []model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
