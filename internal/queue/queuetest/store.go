// Package queuetest provides an in-memory job store for tests. It mirrors
// the SQL store's semantics, including the atomicity of claim, callback and
// publish under its mutex.
package queuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minhvt/portal-be/internal/content"
	"github.com/minhvt/portal-be/internal/queue/domain"
)

// Store is an in-memory implementation of the queue's Store contract.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	articles map[string]*content.Article
}

func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]*domain.Job),
		articles: make(map[string]*content.Article),
	}
}

func copyJob(j *domain.Job) *domain.Job {
	out := *j
	return &out
}

func (m *Store) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.JobID] = copyJob(job)
	return nil
}

func (m *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(job), nil
}

func (m *Store) List(ctx context.Context, filter domain.Filter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.RelatedID != "" && (job.ProducedEntityID == nil || *job.ProducedEntityID != filter.RelatedID) {
			continue
		}
		out = append(out, *copyJob(job))
	}
	return out, nil
}

func (m *Store) Update(ctx context.Context, jobID string, patch domain.Patch) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	if patch.Status != nil {
		if !domain.CanTransition(job.Status, *patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, job.Status, *patch.Status)
		}
		job.Status = *patch.Status
		if domain.IsTerminal(*patch.Status) && job.ProcessedAt == nil {
			now := time.Now()
			job.ProcessedAt = &now
		}
	}
	if patch.Payload != nil {
		job.Payload = *patch.Payload
	}
	if patch.Source != nil {
		job.Source = *patch.Source
	}
	if patch.Result != nil {
		result := *patch.Result
		job.Result = &result
	}
	if patch.ErrorMessage != nil {
		msg := *patch.ErrorMessage
		job.ErrorMessage = &msg
	}
	job.UpdatedAt = time.Now()
	return copyJob(job), nil
}

func (m *Store) Delete(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return false, nil
	}
	delete(m.jobs, jobID)
	return true, nil
}

func (m *Store) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.LockedAt != nil || job.Status != domain.StatusDraft {
		return nil, domain.ErrAlreadyClaimed
	}

	now := time.Now()
	job.LockedAt = &now
	job.Status = domain.StatusProcessing
	job.UpdatedAt = now
	return copyJob(job), nil
}

func (m *Store) Restart(ctx context.Context, jobID, initialStatus string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status == domain.StatusPublished {
		return nil, fmt.Errorf("%w: cannot restart a %s job", domain.ErrInvalidState, job.Status)
	}

	job.Status = initialStatus
	job.LockedAt = nil
	job.ErrorMessage = nil
	job.UpdatedAt = time.Now()
	return copyJob(job), nil
}

func (m *Store) ApplyCallback(ctx context.Context, jobID, status string, result, errorMessage *string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status == domain.StatusPublished {
		// Published rows are immutable; a late redelivery is a no-op.
		return copyJob(job), nil
	}

	job.Status = status
	if result != nil && *result != "" {
		value := *result
		job.Result = &value
	}
	if errorMessage != nil {
		msg := *errorMessage
		job.ErrorMessage = &msg
	}
	if job.ProcessedAt == nil {
		now := time.Now()
		job.ProcessedAt = &now
	}
	job.LockedAt = nil
	job.UpdatedAt = time.Now()
	return copyJob(job), nil
}

func (m *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.articles[slug]
	return ok, nil
}

func (m *Store) CreateFromJob(ctx context.Context, jobID string, article *content.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.articles[article.Slug]; ok {
		return domain.ErrSlugConflict
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.ProducedEntityID != nil {
		return domain.ErrAlreadyPublished
	}

	stored := *article
	m.articles[article.Slug] = &stored

	id := article.ArticleID
	job.ProducedEntityID = &id
	job.Status = domain.StatusPublished
	job.UpdatedAt = time.Now()
	return nil
}

// ArticleCount reports how many articles have been published.
func (m *Store) ArticleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles)
}

// ArticleBySlug returns a published article, or nil.
func (m *Store) ArticleBySlug(slug string) *content.Article {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.articles[slug]
	if !ok {
		return nil
	}
	out := *a
	return &out
}
