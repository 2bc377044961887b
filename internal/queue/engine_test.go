package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/minhvt/portal-be/internal/dispatch"
	"github.com/minhvt/portal-be/internal/pipeline"
	"github.com/minhvt/portal-be/internal/queue/domain"
	"github.com/minhvt/portal-be/internal/queue/queuetest"
	"github.com/minhvt/portal-be/internal/settings"
	"github.com/minhvt/portal-be/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSettings is a fake settings.Store with fixed per-kind values.
type mapSettings struct {
	mu     sync.Mutex
	values map[string]map[string]string
}

func (m *mapSettings) LoadValues(ctx context.Context, kind string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.values[kind] {
		out[k] = v
	}
	return out, nil
}

func (m *mapSettings) SaveValues(ctx context.Context, kind string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[kind] == nil {
		m.values[kind] = make(map[string]string)
	}
	for k, v := range values {
		m.values[kind][k] = v
	}
	return nil
}

type testEnv struct {
	engine *Engine
	store  *queuetest.Store
	cache  *settings.Cache
}

// newTestEnv wires an engine over the in-memory store. Kinds get blank env
// prefixes so ambient environment variables cannot leak into tests.
func newTestEnv(t *testing.T, values map[string]map[string]string) *testEnv {
	t.Helper()

	kinds := pipeline.NewRegistry(
		pipeline.Kind{
			Name:            "article_generation",
			InitialStatus:   domain.StatusDraft,
			TerminalSuccess: domain.StatusDone,
			Publishable:     true,
		},
		pipeline.Kind{
			Name:            "test_generation",
			InitialStatus:   domain.StatusDraft,
			TerminalSuccess: domain.StatusFinished,
		},
		pipeline.Kind{
			Name:            "device_kb",
			InitialStatus:   domain.StatusDraft,
			TerminalSuccess: domain.StatusDone,
			Claimable:       true,
			Publishable:     true,
		},
	)

	log := logger.NewDefault().Logger
	store := queuetest.NewStore()
	cache := settings.NewCache(&mapSettings{values: values}, time.Minute, log)
	dispatcher := dispatch.New(cache, time.Second, log)
	engine := NewEngine(store, kinds, cache, dispatcher, log)

	return &testEnv{engine: engine, store: store, cache: cache}
}

func acceptingWorker(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Scenario: create, dispatch, callback, publish.
func TestEngineHappyPathToPublish(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {
			settings.KeyWebhookURL:    worker.URL,
			settings.KeyResponseToken: "cb-token",
		},
	})

	job, result, err := env.engine.Create(ctx, "article_generation", `{"q":"What is REST?"}`, "admin-ui")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, domain.StatusSent, job.Status)
	assert.Equal(t, "admin-ui", job.Source)

	job, err = env.engine.Callback(ctx, "article_generation", job.JobID, "done", "REST is an architectural style.", "cb-token")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "REST is an architectural style.", *job.Result)
	assert.NotNil(t, job.ProcessedAt)

	article, err := env.engine.Publish(ctx, "article_generation", job.JobID, 5)
	require.NoError(t, err)
	assert.Equal(t, "what-is-rest", article.Slug)
	assert.Equal(t, int64(5), article.TopicID)

	job, err = env.engine.Get(ctx, "article_generation", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, job.Status)
	require.NotNil(t, job.ProducedEntityID)
	assert.Equal(t, article.ArticleID, *job.ProducedEntityID)
}

// Scenario: no webhook URL configured.
func TestEngineCreateWithoutWebhookURL(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, result, err := env.engine.Create(ctx, "article_generation", `{"q":"anything"}`, "")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "no webhook URL configured")
	assert.Equal(t, domain.StatusError, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "no webhook URL configured")

	// Error jobs show up in the listing.
	jobs, err := env.engine.List(ctx, "article_generation", domain.StatusError, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.JobID, jobs[0].JobID)

	// Restart recovers it back to draft with the error detail cleared.
	job, err = env.engine.Restart(ctx, "article_generation", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, job.Status)
	assert.Nil(t, job.ErrorMessage)
	assert.Nil(t, job.LockedAt)
}

// Scenario: wrong callback token.
func TestEngineCallbackWrongToken(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {
			settings.KeyWebhookURL:    worker.URL,
			settings.KeyResponseToken: "cb-token",
		},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"x"}`, "")
	require.NoError(t, err)

	_, err = env.engine.Callback(ctx, "article_generation", job.JobID, "done", "stolen result", "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// No state change from the rejected callback.
	after, err := env.engine.Get(ctx, "article_generation", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, after.Status)
	assert.Nil(t, after.Result)
}

func TestEngineCallbackIdempotent(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"x"}`, "")
	require.NoError(t, err)

	first, err := env.engine.Callback(ctx, "article_generation", job.JobID, "done", "the answer", "")
	require.NoError(t, err)

	second, err := env.engine.Callback(ctx, "article_generation", job.JobID, "done", "the answer", "")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, *first.Result, *second.Result)
	// processed_at stays at the first delivery.
	assert.True(t, first.ProcessedAt.Equal(*second.ProcessedAt))
}

func TestEngineCallbackCoalescesResult(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"x"}`, "")
	require.NoError(t, err)

	_, err = env.engine.Callback(ctx, "article_generation", job.JobID, "done", "real result", "")
	require.NoError(t, err)

	// A duplicate with an empty result must not erase the stored one.
	after, err := env.engine.Callback(ctx, "article_generation", job.JobID, "done", "", "")
	require.NoError(t, err)
	require.NotNil(t, after.Result)
	assert.Equal(t, "real result", *after.Result)
}

func TestEngineCallbackNormalizesUnknownStatus(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"test_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "test_generation", `{"topic":"algebra"}`, "")
	require.NoError(t, err)

	// test_generation recognizes finished/error; "completed" collapses to finished.
	after, err := env.engine.Callback(ctx, "test_generation", job.JobID, "completed", "ten questions", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, after.Status)
}

func TestEngineCallbackErrorKeepsResultField(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"x"}`, "")
	require.NoError(t, err)

	after, err := env.engine.Callback(ctx, "article_generation", job.JobID, "error", "model exploded", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, after.Status)
	require.NotNil(t, after.ErrorMessage)
	assert.Equal(t, "model exploded", *after.ErrorMessage)
	// The failure text lands in error_message, not in result.
	assert.Nil(t, after.Result)
}

func TestEngineCallbackAfterPublishLeavesJobPublished(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"What is REST?"}`, "")
	require.NoError(t, err)
	_, err = env.engine.Callback(ctx, "article_generation", job.JobID, "done", "REST is...", "")
	require.NoError(t, err)
	article, err := env.engine.Publish(ctx, "article_generation", job.JobID, 5)
	require.NoError(t, err)

	// The worker retries its callback after the operator already published.
	after, err := env.engine.Callback(ctx, "article_generation", job.JobID, "done", "REST is...", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, after.Status)

	got, err := env.engine.Get(ctx, "article_generation", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	require.NotNil(t, got.ProducedEntityID)
	assert.Equal(t, article.ArticleID, *got.ProducedEntityID)
}

func TestEngineCallbackRejectsDraftJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, _, err := env.engine.Create(ctx, "device_kb", `{"op":"sync"}`, "")
	require.NoError(t, err)

	// Skipping the claim: a draft job cannot jump straight to done.
	_, err = env.engine.Callback(ctx, "device_kb", job.JobID, "done", "output", "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	after, err := env.engine.Get(ctx, "device_kb", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, after.Status)
	assert.Nil(t, after.Result)
}

func TestEngineRestartRejectsPublished(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"What is REST?"}`, "")
	require.NoError(t, err)
	_, err = env.engine.Callback(ctx, "article_generation", job.JobID, "done", "REST is...", "")
	require.NoError(t, err)
	_, err = env.engine.Publish(ctx, "article_generation", job.JobID, 5)
	require.NoError(t, err)

	_, err = env.engine.Restart(ctx, "article_generation", job.JobID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	after, err := env.engine.Get(ctx, "article_generation", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, after.Status)
	assert.NotNil(t, after.ProducedEntityID)
}

func TestEngineCallbackUnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Callback(context.Background(), "article_generation", "missing-id", "done", "x", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineClaimExactlyOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	// device_kb is claimable: create does not dispatch.
	job, result, err := env.engine.Create(ctx, "device_kb", `{"op":"sync"}`, "")
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, domain.StatusDraft, job.Status)
	assert.Nil(t, job.LockedAt)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Claim(ctx, "device_kb", job.JobID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		if err == nil {
			succeeded++
		} else if assert.ErrorIs(t, err, domain.ErrAlreadyClaimed) {
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	after, err := env.engine.Get(ctx, "device_kb", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, after.Status)
	assert.NotNil(t, after.LockedAt)
}

func TestEngineClaimRejectedForPushPipelines(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"x"}`, "")
	require.NoError(t, err)

	_, err = env.engine.Claim(ctx, "article_generation", job.JobID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngineRestartPreservesResult(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, _, err := env.engine.Create(ctx, "device_kb", `{"op":"sync"}`, "")
	require.NoError(t, err)

	_, err = env.engine.Claim(ctx, "device_kb", job.JobID)
	require.NoError(t, err)

	// Worker delivered output; the operator then re-runs the job.
	_, err = env.store.ApplyCallback(ctx, job.JobID, domain.StatusDone, strPtr("partial output"), nil)
	require.NoError(t, err)
	_, err = env.store.Restart(ctx, job.JobID, domain.StatusDraft)
	require.NoError(t, err)

	after, err := env.engine.Get(ctx, "device_kb", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, after.Status)
	assert.Nil(t, after.LockedAt)
	assert.Nil(t, after.ErrorMessage)
	require.NotNil(t, after.Result)
	assert.Equal(t, "partial output", *after.Result)
}

func TestEnginePublishSingleUse(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"What is REST?"}`, "")
	require.NoError(t, err)

	_, err = env.engine.Callback(ctx, "article_generation", job.JobID, "done", "REST is...", "")
	require.NoError(t, err)

	first, err := env.engine.Publish(ctx, "article_generation", job.JobID, 5)
	require.NoError(t, err)

	_, err = env.engine.Publish(ctx, "article_generation", job.JobID, 5)
	assert.ErrorIs(t, err, domain.ErrAlreadyPublished)

	// Still exactly one article.
	exists, err := env.store.SlugExists(ctx, first.Slug)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, env.store.ArticleCount())
}

func TestEnginePublishSlugUniqueAcrossJobs(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"article_generation": {settings.KeyWebhookURL: worker.URL},
	})

	var slugs []string
	for i := 0; i < 2; i++ {
		job, _, err := env.engine.Create(ctx, "article_generation", `{"q":"What is REST?"}`, "")
		require.NoError(t, err)
		_, err = env.engine.Callback(ctx, "article_generation", job.JobID, "done", "REST is...", "")
		require.NoError(t, err)
		article, err := env.engine.Publish(ctx, "article_generation", job.JobID, 5)
		require.NoError(t, err)
		slugs = append(slugs, article.Slug)
	}

	assert.Equal(t, []string{"what-is-rest", "what-is-rest-2"}, slugs)
}

func TestEnginePublishRejectedForNonPublishableKind(t *testing.T) {
	ctx := context.Background()
	worker := acceptingWorker(t)

	env := newTestEnv(t, map[string]map[string]string{
		"test_generation": {settings.KeyWebhookURL: worker.URL},
	})

	job, _, err := env.engine.Create(ctx, "test_generation", `{"topic":"algebra"}`, "")
	require.NoError(t, err)
	_, err = env.engine.Callback(ctx, "test_generation", job.JobID, "finished", "questions", "")
	require.NoError(t, err)

	_, err = env.engine.Publish(ctx, "test_generation", job.JobID, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngineCreateRejectsEmptyPayload(t *testing.T) {
	env := newTestEnv(t, nil)

	_, _, err := env.engine.Create(context.Background(), "article_generation", "  ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	jobs, listErr := env.engine.List(context.Background(), "article_generation", "", "", 0, 0)
	require.NoError(t, listErr)
	assert.Empty(t, jobs)
}

func TestEngineUnknownKind(t *testing.T) {
	env := newTestEnv(t, nil)

	_, _, err := env.engine.Create(context.Background(), "vehicle_maintenance", `{"x":1}`, "")
	assert.ErrorIs(t, err, pipeline.ErrUnknownKind)
}

func TestEngineGetHidesOtherKinds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	job, _, err := env.engine.Create(ctx, "device_kb", `{"op":"sync"}`, "")
	require.NoError(t, err)

	_, err = env.engine.Get(ctx, "article_generation", job.JobID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func strPtr(s string) *string { return &s }
