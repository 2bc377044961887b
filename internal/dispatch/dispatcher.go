package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/minhvt/portal-be/internal/pipeline"
	"github.com/minhvt/portal-be/internal/queue/domain"
	"github.com/minhvt/portal-be/internal/settings"
)

const (
	// DefaultTimeout bounds the outbound webhook call. The worker computes
	// asynchronously; this only covers the hand-off.
	DefaultTimeout = 8 * time.Second

	// maxMessageLen caps stored failure detail so a chatty worker cannot
	// grow error_message without bound.
	maxMessageLen = 500
)

// Result reports the outcome of handing a job to the external worker.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// webhookRequest is the envelope posted to the worker.
type webhookRequest struct {
	JobID   string          `json:"job_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatcher delivers job payloads to the external worker's webhook URL.
type Dispatcher struct {
	client   *http.Client
	settings *settings.Cache
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a dispatcher. A zero timeout falls back to DefaultTimeout.
func New(cache *settings.Cache, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		client:   &http.Client{},
		settings: cache,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch posts {job_id, kind, payload} to the pipeline's webhook URL.
// A 2xx response means the worker accepted the job; anything else, including
// a timeout or a missing webhook URL, is a failure the caller records on the
// job. Cancelling the context closes the underlying connection, so a hung
// worker cannot stall the producer past the timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job, kind pipeline.Kind) Result {
	cfg, err := d.settings.Load(ctx, kind.Name, kind.EnvPrefix)
	if err != nil {
		return Result{OK: false, Message: truncate("failed to load settings: " + err.Error())}
	}

	if cfg.WebhookURL == "" {
		d.logger.Warn("Dispatch skipped, no webhook URL configured",
			slog.String("kind", kind.Name),
			slog.String("job_id", job.JobID),
		)
		return Result{OK: false, Message: "no webhook URL configured for pipeline " + kind.Name}
	}

	payload := json.RawMessage(job.Payload)
	if !json.Valid(payload) {
		// Free-form payloads still travel as a JSON string.
		payload, _ = json.Marshal(job.Payload)
	}

	body, err := json.Marshal(webhookRequest{
		JobID:   job.JobID,
		Kind:    job.Kind,
		Payload: payload,
	})
	if err != nil {
		return Result{OK: false, Message: truncate("failed to encode webhook body: " + err.Error())}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{OK: false, Message: truncate("failed to build webhook request: " + err.Error())}
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.WebhookToken)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("Webhook call failed",
			slog.String("kind", kind.Name),
			slog.String("job_id", job.JobID),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return Result{OK: false, Message: truncate("webhook call failed: " + err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageLen))
		d.logger.Error("Webhook rejected job",
			slog.String("kind", kind.Name),
			slog.String("job_id", job.JobID),
			slog.Int("status", resp.StatusCode),
		)
		return Result{
			OK:      false,
			Message: truncate(fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, detail)),
		}
	}

	d.logger.Info("Job dispatched",
		slog.String("kind", kind.Name),
		slog.String("job_id", job.JobID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	return Result{OK: true}
}

// truncate bounds s, backing up to a rune boundary so the cut never leaves
// a partial UTF-8 sequence behind.
func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
