package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/minhvt/portal-be/internal/content"
	"github.com/minhvt/portal-be/internal/queue/domain"
	"github.com/minhvt/portal-be/shared/postgresql"
)

const jobColumns = `
	job_id, kind, payload, source, status, result, error_message,
	locked_at, processed_at, produced_entity_id, created_at, updated_at
`

// Storage is the PostgreSQL-backed job store. Claim, callback and publish
// are single atomic statements or transactions; no read-then-write pairs.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

func (s *Storage) Create(ctx context.Context, job *domain.Job) error {
	const query = `
		INSERT INTO jobs (job_id, kind, payload, source, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		job.JobID, job.Kind, job.Payload, job.Source, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *Storage) List(ctx context.Context, filter domain.Filter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.RelatedID != "" {
		query += fmt.Sprintf(" AND produced_entity_id = $%d", argIdx)
		args = append(args, filter.RelatedID)
		argIdx++
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Update applies a typed patch. A status change is validated against the
// state machine and guarded optimistically on the current status; backward
// moves out of a terminal state only happen through Restart.
func (s *Storage) Update(ctx context.Context, jobID string, patch domain.Patch) (*domain.Job, error) {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	argIdx := 1

	appendSet := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if patch.Payload != nil {
		appendSet("payload", *patch.Payload)
	}
	if patch.Source != nil {
		appendSet("source", *patch.Source)
	}
	if patch.Result != nil {
		appendSet("result", *patch.Result)
	}
	if patch.ErrorMessage != nil {
		appendSet("error_message", *patch.ErrorMessage)
	}
	if patch.Status != nil {
		if !domain.CanTransition(current.Status, *patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, current.Status, *patch.Status)
		}
		appendSet("status", *patch.Status)
		if domain.IsTerminal(*patch.Status) {
			sets = append(sets, "processed_at = COALESCE(processed_at, NOW())")
		}
	}

	query := fmt.Sprintf(
		`UPDATE jobs SET %s WHERE job_id = $%d AND status = $%d RETURNING %s`,
		strings.Join(sets, ", "), argIdx, argIdx+1, jobColumns,
	)
	args = append(args, jobID, current.Status)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost a status race since the read above.
			return nil, domain.ErrInvalidState
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return &job, nil
}

func (s *Storage) Delete(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Claim locks an unclaimed draft job in one conditional update. Zero rows
// means another poller holds it or it already advanced.
func (s *Storage) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    locked_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		  AND locked_at IS NULL
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.StatusProcessing, jobID, domain.StatusDraft)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Claim lost, job locked or advanced",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// Restart clears the lock and the error detail together and resets the
// status, preserving any stored result. Published jobs are immutable and
// cannot be restarted.
func (s *Storage) Restart(ctx context.Context, jobID, initialStatus string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    locked_at = NULL,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status <> $3
		RETURNING ` + jobColumns

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, initialStatus, jobID, domain.StatusPublished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.Get(ctx, jobID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: cannot restart a %s job", domain.ErrInvalidState, current.Status)
		}
		return nil, fmt.Errorf("failed to restart job: %w", err)
	}
	return &job, nil
}

// ApplyCallback writes a worker result idempotently: the result never
// shrinks back to empty, processed_at is set exactly once and the lock is
// released. Re-running the same statement converges on the same row. A job
// that was published in the meantime is immutable; the update skips it and
// the row comes back untouched.
func (s *Storage) ApplyCallback(ctx context.Context, jobID, status string, result, errorMessage *string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2,
		    result = COALESCE(NULLIF($3, ''), result),
		    error_message = COALESCE($4, error_message),
		    processed_at = COALESCE(processed_at, NOW()),
		    locked_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status <> $5
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, jobID, status, result, errorMessage, domain.StatusPublished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Missing, or already published. A late redelivery after publish
			// returns the row unchanged instead of demoting it.
			return s.Get(ctx, jobID)
		}
		return nil, fmt.Errorf("failed to apply callback: %w", err)
	}
	return &job, nil
}

func (s *Storage) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM articles WHERE slug = $1)`, slug)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// CreateFromJob inserts the article and links it to the source job in one
// transaction. The job row update is conditioned on produced_entity_id
// still being NULL so publish stays single-use even under races.
func (s *Storage) CreateFromJob(ctx context.Context, jobID string, article *content.Article) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin publish transaction: %w", err)
	}
	defer tx.Rollback()

	const insertArticle = `
		INSERT INTO articles (article_id, topic_id, slug, title, body, source_job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, insertArticle,
		article.ArticleID, article.TopicID, article.Slug,
		article.Title, article.Body, article.SourceJobID,
	).Scan(&article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSlugConflict
		}
		return fmt.Errorf("failed to insert article: %w", err)
	}

	const linkJob = `
		UPDATE jobs
		SET status = $1,
		    produced_entity_id = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND produced_entity_id IS NULL
	`
	res, err := tx.ExecContext(ctx, linkJob, domain.StatusPublished, article.ArticleID, jobID)
	if err != nil {
		return fmt.Errorf("failed to link job to article: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// A concurrent publish got there first; rolling back drops the article.
		return domain.ErrAlreadyPublished
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}

	s.logger.Info("Article published from job",
		slog.String("job_id", jobID),
		slog.String("article_id", article.ArticleID),
		slog.String("slug", article.Slug),
	)
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
