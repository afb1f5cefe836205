package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/platform/resilience"
)

// HTTPRunner delegates task execution to an external agent endpoint by
// POSTing the task's agent instructions and reading back a result payload.
// A circuit breaker guards the endpoint so a down agent service fails fast
// instead of piling up blocked workers.
type HTTPRunner struct {
	client  *http.Client
	tracer  trace.Tracer
	breaker *resilience.CircuitBreaker
	url     string
}

// NewHTTPRunner builds a runner that delegates to the given agent endpoint.
func NewHTTPRunner(endpoint string) *HTTPRunner {
	return &HTTPRunner{
		url: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer:  otel.Tracer("taskengine-runner-http"),
		breaker: resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 15*time.Second, 3),
	}
}

type httpRunnerRequest struct {
	TaskID       string `json:"task_id"`
	AgentName    string `json:"agent_name"`
	Instructions string `json:"agent_instructions"`
}

type httpRunnerResponse struct {
	Result string `json:"result"`
}

func (r *HTTPRunner) Run(ctx context.Context, task model.Task) (string, error) {
	ctx, span := r.tracer.Start(ctx, "runner.http.run",
		trace.WithAttributes(attribute.String("task_id", task.ID), attribute.String("agent_name", task.AgentName)))
	defer span.End()

	if !r.breaker.Allow() {
		return "", fmt.Errorf("agent endpoint %s: circuit open", r.url)
	}

	body, err := json.Marshal(httpRunnerRequest{
		TaskID:       task.ID,
		AgentName:    task.AgentName,
		Instructions: task.AgentInstructions,
	})
	if err != nil {
		return "", fmt.Errorf("marshal runner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build runner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-ID", task.ID)
	otel.GetTextMapPropagator().Inject(ctx, propagationCarrier{req.Header})

	resp, err := r.client.Do(req)
	if err != nil {
		r.breaker.RecordResult(false)
		return "", fmt.Errorf("call agent endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		r.breaker.RecordResult(false)
		return "", fmt.Errorf("read agent response: %w", err)
	}
	if resp.StatusCode >= 400 {
		r.breaker.RecordResult(false)
		return "", fmt.Errorf("agent endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out httpRunnerResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		out.Result = string(respBody)
	}
	r.breaker.RecordResult(true)
	return out.Result, nil
}

// propagationCarrier adapts http.Header for OpenTelemetry trace propagation.
type propagationCarrier struct{ header http.Header }

func (c propagationCarrier) Get(key string) string   { return c.header.Get(key) }
func (c propagationCarrier) Set(key, value string)    { c.header.Set(key, value) }
func (c propagationCarrier) Keys() []string {
	keys := make([]string, 0, len(c.header))
	for k := range c.header {
		keys = append(keys, k)
	}
	return keys
}
