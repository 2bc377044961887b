package queue

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/minhvt/portal-be/internal/content"
	"github.com/minhvt/portal-be/internal/dispatch"
	"github.com/minhvt/portal-be/internal/pipeline"
	"github.com/minhvt/portal-be/internal/publish"
	"github.com/minhvt/portal-be/internal/queue/domain"
	"github.com/minhvt/portal-be/internal/settings"
)

// Store is the persistence contract the engine runs on. The claim and
// callback operations must be atomic at the storage layer; the engine never
// implements them as read-then-write pairs.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter domain.Filter) ([]domain.Job, error)
	Update(ctx context.Context, jobID string, patch domain.Patch) (*domain.Job, error)
	Delete(ctx context.Context, jobID string) (bool, error)

	// Claim sets locked_at and moves the job to processing in a single
	// conditional update guarded by locked_at IS NULL. A held lock yields
	// domain.ErrAlreadyClaimed with no mutation.
	Claim(ctx context.Context, jobID string) (*domain.Job, error)

	// Restart clears locked_at and error_message and resets status to
	// initialStatus, preserving any stored result. A published job is
	// immutable and fails with domain.ErrInvalidState.
	Restart(ctx context.Context, jobID, initialStatus string) (*domain.Job, error)

	// ApplyCallback records a worker result idempotently: result only
	// overwrites when non-empty, processed_at is set once, locked_at is
	// released, and re-delivery of the same terminal state is a no-op.
	// A job published in the meantime is returned unchanged.
	ApplyCallback(ctx context.Context, jobID, status string, result, errorMessage *string) (*domain.Job, error)

	publish.Store
}

// Engine is the job-queue core shared by every pipeline kind: it creates
// and dispatches jobs, accepts worker callbacks, hands out claims for
// polling workers and promotes finished jobs into articles.
type Engine struct {
	store      Store
	kinds      *pipeline.Registry
	settings   *settings.Cache
	dispatcher *dispatch.Dispatcher
	publisher  *publish.Publisher
	logger     *slog.Logger
}

func NewEngine(store Store, kinds *pipeline.Registry, cache *settings.Cache, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		kinds:      kinds,
		settings:   cache,
		dispatcher: dispatcher,
		publisher:  publish.New(store, logger),
		logger:     logger,
	}
}

// Kinds exposes the pipeline registry for the HTTP layer.
func (e *Engine) Kinds() *pipeline.Registry {
	return e.kinds
}

// Create records a new job and, for push pipelines, immediately hands it to
// the external worker. Dispatch failure does not fail the create: the job
// is kept with status error so the operator can inspect and restart it.
func (e *Engine) Create(ctx context.Context, kindName, payload, source string) (*domain.Job, dispatch.Result, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, dispatch.Result{}, err
	}
	if strings.TrimSpace(payload) == "" {
		return nil, dispatch.Result{}, fmt.Errorf("%w: payload is required", domain.ErrInvalidState)
	}

	job := &domain.Job{
		JobID:   uuid.New().String(),
		Kind:    kind.Name,
		Payload: payload,
		Source:  source,
		Status:  kind.InitialStatus,
	}
	if err := e.store.Create(ctx, job); err != nil {
		return nil, dispatch.Result{}, err
	}

	e.logger.Info("Job created",
		slog.String("kind", kind.Name),
		slog.String("job_id", job.JobID),
		slog.String("source", source),
	)

	if kind.Claimable {
		// Polling workers pick the job up themselves via Claim.
		return job, dispatch.Result{OK: true}, nil
	}

	return e.dispatchJob(ctx, job, kind)
}

// Dispatch re-sends an existing job to the worker. Used by restart flows
// where the operator wants an immediate retry instead of waiting.
func (e *Engine) Dispatch(ctx context.Context, kindName, jobID string) (*domain.Job, dispatch.Result, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, dispatch.Result{}, err
	}
	job, err := e.getForKind(ctx, kind, jobID)
	if err != nil {
		return nil, dispatch.Result{}, err
	}
	if job.Status != kind.InitialStatus {
		return nil, dispatch.Result{}, fmt.Errorf("%w: cannot dispatch from status %s", domain.ErrInvalidState, job.Status)
	}
	return e.dispatchJob(ctx, job, kind)
}

func (e *Engine) dispatchJob(ctx context.Context, job *domain.Job, kind pipeline.Kind) (*domain.Job, dispatch.Result, error) {
	result := e.dispatcher.Dispatch(ctx, job, kind)

	patch := domain.Patch{}
	if result.OK {
		status := domain.StatusSent
		patch.Status = &status
	} else {
		status := domain.StatusError
		patch.Status = &status
		patch.ErrorMessage = &result.Message
	}

	updated, err := e.store.Update(ctx, job.JobID, patch)
	if err != nil {
		return nil, result, fmt.Errorf("failed to record dispatch outcome: %w", err)
	}
	return updated, result, nil
}

// Get fetches a job, verifying it belongs to the named pipeline.
func (e *Engine) Get(ctx context.Context, kindName, jobID string) (*domain.Job, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, err
	}
	return e.getForKind(ctx, kind, jobID)
}

// List returns jobs of one pipeline, optionally narrowed by status or by
// the produced entity they published.
func (e *Engine) List(ctx context.Context, kindName, status, relatedID string, limit, offset int) ([]domain.Job, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, err
	}
	if status != "" && !domain.ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidState, status)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.List(ctx, domain.Filter{
		Kind:      kind.Name,
		Status:    status,
		RelatedID: relatedID,
		Limit:     limit,
		Offset:    offset,
	})
}

// Delete removes a job. Jobs are only deleted by explicit operator action.
func (e *Engine) Delete(ctx context.Context, kindName, jobID string) error {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return err
	}
	if _, err := e.getForKind(ctx, kind, jobID); err != nil {
		return err
	}
	deleted, err := e.store.Delete(ctx, jobID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	e.logger.Info("Job deleted",
		slog.String("kind", kind.Name),
		slog.String("job_id", jobID),
	)
	return nil
}

// Claim locks a job for a polling worker. Only pipelines configured for
// polling support it; exactly one of two concurrent claims succeeds.
func (e *Engine) Claim(ctx context.Context, kindName, jobID string) (*domain.Job, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, err
	}
	if !kind.Claimable {
		return nil, fmt.Errorf("%w: pipeline %s does not support claiming", domain.ErrInvalidState, kind.Name)
	}
	if _, err := e.getForKind(ctx, kind, jobID); err != nil {
		return nil, err
	}

	job, err := e.store.Claim(ctx, jobID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Job claimed",
		slog.String("kind", kind.Name),
		slog.String("job_id", jobID),
	)
	return job, nil
}

// Restart is the operator recovery path for stuck or failed jobs: it clears
// the lock and the error detail and resets the job to the pipeline's initial
// status. A previously stored result survives.
func (e *Engine) Restart(ctx context.Context, kindName, jobID string) (*domain.Job, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, err
	}
	current, err := e.getForKind(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.StatusPublished {
		return nil, fmt.Errorf("%w: cannot restart a published job", domain.ErrInvalidState)
	}

	job, err := e.store.Restart(ctx, jobID, kind.InitialStatus)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Job restarted",
		slog.String("kind", kind.Name),
		slog.String("job_id", jobID),
	)
	return job, nil
}

// Callback applies an external worker's result. Authentication happens
// before the job lookup so a bad token learns nothing about job existence.
// Delivering the same callback twice converges on the same final state.
func (e *Engine) Callback(ctx context.Context, kindName, jobID, claimedStatus, result, token string) (*domain.Job, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, err
	}

	cfg, err := e.settings.Load(ctx, kind.Name, kind.EnvPrefix)
	if err != nil {
		return nil, err
	}
	if cfg.ResponseToken != "" {
		if subtle.ConstantTimeCompare([]byte(cfg.ResponseToken), []byte(token)) != 1 {
			e.logger.Warn("Callback rejected, bad response token",
				slog.String("kind", kind.Name),
			)
			return nil, domain.ErrUnauthorized
		}
	}

	current, err := e.getForKind(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}

	status := kind.NormalizeCallbackStatus(claimedStatus)
	if current.Status == domain.StatusPublished {
		// The worker retried after the operator published; the job is
		// immutable now, so the redelivery is a no-op.
		return current, nil
	}
	if !domain.CanTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, current.Status, status)
	}

	var resultPtr, errMsgPtr *string
	if status == domain.StatusError {
		// A failing worker reports its error text in the result field;
		// keep it out of the stored result.
		if result != "" {
			errMsgPtr = &result
		}
	} else if result != "" {
		resultPtr = &result
	}

	job, err := e.store.ApplyCallback(ctx, jobID, status, resultPtr, errMsgPtr)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Callback applied",
		slog.String("kind", kind.Name),
		slog.String("job_id", jobID),
		slog.String("status", job.Status),
	)
	return job, nil
}

// Publish promotes a finished job into an article under the given topic.
func (e *Engine) Publish(ctx context.Context, kindName, jobID string, topicID int64) (*content.Article, error) {
	kind, err := e.kinds.Get(kindName)
	if err != nil {
		return nil, err
	}
	if !kind.Publishable {
		return nil, fmt.Errorf("%w: pipeline %s does not publish articles", domain.ErrInvalidState, kind.Name)
	}

	job, err := e.getForKind(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}

	return e.publisher.Publish(ctx, job, topicID)
}

// getForKind resolves a job and hides jobs of other pipelines behind
// ErrNotFound so ids cannot be probed across kinds.
func (e *Engine) getForKind(ctx context.Context, kind pipeline.Kind, jobID string) (*domain.Job, error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Kind != kind.Name {
		return nil, domain.ErrNotFound
	}
	return job, nil
}
