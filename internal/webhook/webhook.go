// Package webhook delivers terminal-task payloads to external URLs with
// bounded, linear-backoff retry and at-least-once semantics.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/platform/periodic"
	"github.com/swarmguard/taskengine/internal/platform/resilience"
)

// Store is the subset of store.Store the webhook pipeline depends on.
type Store interface {
	PendingWebhookTasks() []model.Task
	AddWebhookDelivery(d model.WebhookDelivery) error
}

// Config mirrors the reference webhook defaults exactly.
type Config struct {
	Interval         time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	Timeout          time.Duration
}

// DefaultConfig matches the reference WebhookConfig defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Second,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// Pipeline is the background worker ticking the store for pending deliveries.
type Pipeline struct {
	store  Store
	cfg    Config
	client *http.Client

	delivered metric.Int64Counter
	attempted metric.Int64Counter

	// limiter bounds outbound delivery volume so a large backlog of pending
	// webhooks (e.g. after a restart) doesn't hammer external receivers all
	// at once; tasks skipped this tick are simply retried on the next one.
	limiter *resilience.RateLimiter

	loop *periodic.Loop
}

// New builds a Pipeline.
func New(store Store, cfg Config) *Pipeline {
	meter := otel.Meter("swarm-taskengine-webhook")
	delivered, _ := meter.Int64Counter("taskengine_webhook_delivered_total")
	attempted, _ := meter.Int64Counter("taskengine_webhook_attempts_total")
	return &Pipeline{
		store:     store,
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		delivered: delivered,
		attempted: attempted,
		limiter:   resilience.NewRateLimiter(20, 10, time.Minute, 200),
	}
}

// Start begins the periodic delivery sweep.
func (p *Pipeline) Start(ctx context.Context) error {
	loop, err := periodic.NewLoop(p.cfg.Interval, func() { p.tick(ctx) })
	if err != nil {
		return err
	}
	p.loop = loop
	return nil
}

// Stop halts the periodic sweep.
func (p *Pipeline) Stop() {
	if p.loop != nil {
		p.loop.Stop()
	}
}

func (p *Pipeline) tick(ctx context.Context) {
	for _, task := range p.store.PendingWebhookTasks() {
		if !p.limiter.Allow() {
			slog.Info("webhook delivery deferred by rate limiter", "task_id", task.ID)
			continue
		}
		p.deliver(ctx, task)
	}
}

func (p *Pipeline) deliver(ctx context.Context, task model.Task) {
	payload := model.WebhookPayloadFromTask(task)
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("webhook: failed to marshal payload", "task_id", task.ID, "error", err)
		return
	}

	if p.attempt(ctx, task, body, 0) {
		return
	}
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		delay := p.cfg.RetryDelay * time.Duration(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if p.attempt(ctx, task, body, attempt) {
			return
		}
	}
}

// attempt performs a single POST and logs a delivery row. Returns true once a
// 2xx response is recorded.
func (p *Pipeline) attempt(ctx context.Context, task model.Task, body []byte, attemptNum int) bool {
	p.attempted.Add(ctx, 1)
	now := time.Now().UTC()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.WebhookURL, bytes.NewReader(body))
	statusCode, responseText := -1, ""
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		resp, doErr := p.client.Do(req)
		if doErr != nil {
			err = doErr
		} else {
			defer resp.Body.Close()
			statusCode = resp.StatusCode
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			responseText = string(respBody)
		}
	}

	delivery := model.WebhookDelivery{
		TaskID:      task.ID,
		URL:         task.WebhookURL,
		PayloadJSON: string(body),
		AttemptedAt: now,
	}
	if err != nil {
		delivery.ResponseText = err.Error()
	} else {
		delivery.StatusCode = &statusCode
		delivery.ResponseText = responseText
	}

	success := delivery.StatusCode != nil && *delivery.StatusCode >= 200 && *delivery.StatusCode < 300
	if success {
		delivered := time.Now().UTC()
		delivery.DeliveredAt = &delivered
	}

	if err := p.store.AddWebhookDelivery(delivery); err != nil {
		slog.Warn("webhook: failed to log delivery", "task_id", task.ID, "error", err)
	}

	if success {
		p.delivered.Add(ctx, 1)
		return true
	}
	if statusCode >= 0 {
		slog.Info("webhook delivery attempt failed", "task_id", task.ID, "attempt", attemptNum, "status_code", statusCode)
	} else {
		slog.Info("webhook delivery attempt failed", "task_id", task.ID, "attempt", attemptNum, "error", fmt.Sprint(delivery.ResponseText))
	}
	return false
}
