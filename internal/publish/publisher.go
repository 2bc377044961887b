package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/minhvt/portal-be/internal/content"
	"github.com/minhvt/portal-be/internal/queue/domain"
	"github.com/minhvt/portal-be/internal/slug"
)

// slugRetries bounds re-allocation after losing an insert race on the slug
// unique constraint. The suffix space is unbounded, so hitting this limit
// means something other than a collision is wrong.
const slugRetries = 3

// Store is the persistence surface the publisher needs: slug probing plus
// the atomic insert-article-and-link-job step.
type Store interface {
	SlugExists(ctx context.Context, slug string) (bool, error)

	// CreateFromJob inserts the article and marks the source job published
	// (produced_entity_id, status) as one unit. It fails with
	// domain.ErrSlugConflict when a concurrent publish took the slug first,
	// and with domain.ErrAlreadyPublished when the job already has a
	// produced entity.
	CreateFromJob(ctx context.Context, jobID string, article *content.Article) error
}

// Publisher promotes a finished job's result into a durable article under
// a topic. Publishing is single-use per job.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

// Publish validates the job, allocates a unique slug and creates the
// article. No partial state survives a failure: the insert and the job
// link commit together.
func (p *Publisher) Publish(ctx context.Context, job *domain.Job, topicID int64) (*content.Article, error) {
	if job.ProducedEntityID != nil {
		return nil, domain.ErrAlreadyPublished
	}
	if !domain.IsTerminalSuccess(job.Status) {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrInvalidState, job.Status)
	}
	if job.Result == nil || strings.TrimSpace(*job.Result) == "" {
		return nil, domain.ErrEmptyResult
	}

	title := deriveTitle(job)
	base := slug.Make(title)

	for attempt := 0; attempt < slugRetries; attempt++ {
		allocated, err := slug.AllocateUnique(ctx, base, p.store.SlugExists)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate slug: %w", err)
		}

		now := time.Now()
		article := &content.Article{
			ArticleID:   uuid.New().String(),
			TopicID:     topicID,
			Slug:        allocated,
			Title:       title,
			Body:        *job.Result,
			SourceJobID: &job.JobID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err = p.store.CreateFromJob(ctx, job.JobID, article)
		if errors.Is(err, domain.ErrSlugConflict) {
			// Lost the race between the existence probe and the insert.
			p.logger.Warn("Slug taken concurrently, reallocating",
				slog.String("job_id", job.JobID),
				slog.String("slug", allocated),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		p.logger.Info("Job published",
			slog.String("job_id", job.JobID),
			slog.String("article_id", article.ArticleID),
			slog.String("slug", allocated),
			slog.Int64("topic_id", topicID),
		)

		return article, nil
	}

	return nil, fmt.Errorf("failed to allocate unique slug for %q after %d attempts", base, slugRetries)
}

// deriveTitle picks an article title from the job: a well-known key in the
// payload when it parses as JSON, otherwise the first line of the result.
func deriveTitle(job *domain.Job) string {
	var fields map[string]any
	if err := json.Unmarshal([]byte(job.Payload), &fields); err == nil {
		for _, key := range []string{"title", "q", "question", "topic", "prompt"} {
			if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}

	result := strings.TrimSpace(*job.Result)
	if i := strings.IndexByte(result, '\n'); i > 0 {
		result = result[:i]
	}
	const maxTitleLen = 120
	if len(result) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	if result == "" {
		return "Untitled"
	}
	return result
}
