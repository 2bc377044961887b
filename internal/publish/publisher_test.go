package publish

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/minhvt/portal-be/internal/content"
	"github.com/minhvt/portal-be/internal/queue/domain"
	"github.com/minhvt/portal-be/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records published articles keyed by slug.
type fakeStore struct {
	articles map[string]*content.Article
	// conflictOnce makes the first insert lose the slug race even though
	// the existence probe said the slug was free.
	conflictOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{articles: make(map[string]*content.Article)}
}

func (f *fakeStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, ok := f.articles[slug]
	return ok, nil
}

func (f *fakeStore) CreateFromJob(ctx context.Context, jobID string, article *content.Article) error {
	if f.conflictOnce {
		f.conflictOnce = false
		f.articles[article.Slug] = &content.Article{Slug: article.Slug}
		return domain.ErrSlugConflict
	}
	if _, ok := f.articles[article.Slug]; ok {
		return domain.ErrSlugConflict
	}
	f.articles[article.Slug] = article
	return nil
}

func strptr(s string) *string { return &s }

func doneJob() *domain.Job {
	return &domain.Job{
		JobID:   "job-1",
		Kind:    "article_generation",
		Payload: `{"q":"What is REST?"}`,
		Status:  domain.StatusDone,
		Result:  strptr("REST is an architectural style for distributed systems."),
	}
}

func TestPublishHappyPath(t *testing.T) {
	store := newFakeStore()
	p := New(store, logger.NewDefault().Logger)

	article, err := p.Publish(context.Background(), doneJob(), 5)
	require.NoError(t, err)

	assert.Equal(t, "what-is-rest", article.Slug)
	assert.Equal(t, "What is REST?", article.Title)
	assert.Equal(t, int64(5), article.TopicID)
	assert.Equal(t, "REST is an architectural style for distributed systems.", article.Body)
	require.NotNil(t, article.SourceJobID)
	assert.Equal(t, "job-1", *article.SourceJobID)
	assert.NotEmpty(t, article.ArticleID)
}

func TestPublishSlugSuffixOnCollision(t *testing.T) {
	store := newFakeStore()
	store.articles["what-is-rest"] = &content.Article{Slug: "what-is-rest"}

	p := New(store, logger.NewDefault().Logger)

	article, err := p.Publish(context.Background(), doneJob(), 5)
	require.NoError(t, err)
	assert.Equal(t, "what-is-rest-2", article.Slug)
}

func TestPublishRetriesLostInsertRace(t *testing.T) {
	store := newFakeStore()
	store.conflictOnce = true

	p := New(store, logger.NewDefault().Logger)

	article, err := p.Publish(context.Background(), doneJob(), 5)
	require.NoError(t, err)
	// First insert lost the race for the base slug; the retry picked the suffix.
	assert.Equal(t, "what-is-rest-2", article.Slug)
}

func TestPublishRejectsAlreadyPublished(t *testing.T) {
	job := doneJob()
	job.ProducedEntityID = strptr("article-9")

	p := New(newFakeStore(), logger.NewDefault().Logger)

	_, err := p.Publish(context.Background(), job, 5)
	assert.ErrorIs(t, err, domain.ErrAlreadyPublished)
}

func TestPublishRejectsNonTerminalStatus(t *testing.T) {
	for _, status := range []string{domain.StatusDraft, domain.StatusSent, domain.StatusProcessing, domain.StatusError} {
		job := doneJob()
		job.Status = status

		p := New(newFakeStore(), logger.NewDefault().Logger)

		_, err := p.Publish(context.Background(), job, 5)
		assert.ErrorIs(t, err, domain.ErrInvalidState, status)
	}
}

func TestPublishRejectsEmptyResult(t *testing.T) {
	p := New(newFakeStore(), logger.NewDefault().Logger)

	job := doneJob()
	job.Result = nil
	_, err := p.Publish(context.Background(), job, 5)
	assert.ErrorIs(t, err, domain.ErrEmptyResult)

	job = doneJob()
	job.Result = strptr("   ")
	_, err = p.Publish(context.Background(), job, 5)
	assert.ErrorIs(t, err, domain.ErrEmptyResult)
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		result  string
		want    string
	}{
		{
			name:    "question key",
			payload: `{"q":"What is REST?"}`,
			result:  "irrelevant",
			want:    "What is REST?",
		},
		{
			name:    "title key wins",
			payload: `{"title":"SSH Tunnels","q":"ignored"}`,
			result:  "irrelevant",
			want:    "SSH Tunnels",
		},
		{
			name:    "non-json payload falls back to result first line",
			payload: "free-form instructions",
			result:  "First line\nrest of the body",
			want:    "First line",
		},
		{
			name:    "json without known keys falls back",
			payload: `{"device":"router"}`,
			result:  "Router notes",
			want:    "Router notes",
		},
		{
			// 1 + 200 bytes; the 120-byte cut lands mid-rune and must back
			// up to the previous boundary.
			name:    "long multibyte result trims on a rune boundary",
			payload: `{"device":"router"}`,
			result:  "a" + strings.Repeat("é", 100),
			want:    "a" + strings.Repeat("é", 59),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &domain.Job{
				JobID:     "job-1",
				Payload:   tt.payload,
				Status:    domain.StatusDone,
				Result:    strptr(tt.result),
				CreatedAt: time.Now(),
			}
			assert.Equal(t, tt.want, deriveTitle(job))
		})
	}
}
