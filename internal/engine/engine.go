// Package engine wires together the store, queue, worker pool, scheduler,
// result processor, workflow manager, webhook pipeline, and reaper into a
// single running system — the Go equivalent of the reference
// implementation's top-level system wiring.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmguard/taskengine/internal/events"
	"github.com/swarmguard/taskengine/internal/queue"
	"github.com/swarmguard/taskengine/internal/reaper"
	"github.com/swarmguard/taskengine/internal/resultproc"
	"github.com/swarmguard/taskengine/internal/rpc"
	"github.com/swarmguard/taskengine/internal/runner"
	"github.com/swarmguard/taskengine/internal/scheduler"
	"github.com/swarmguard/taskengine/internal/store"
	"github.com/swarmguard/taskengine/internal/webhook"
	"github.com/swarmguard/taskengine/internal/worker"
	"github.com/swarmguard/taskengine/internal/workflow"
)

// Config configures every tunable surfaced in the external-interfaces section.
type Config struct {
	DBPath                    string
	WorkerCount               int
	SchedulerIntervalSeconds  int
	WebhookIntervalSeconds    int
	WebhookMaxRetries         int
	WebhookRetryDelaySeconds  int
	WebhookTimeoutSeconds     int
	ReaperIntervalSeconds     int
	ReaperStaleAfterSeconds   int
	AgentHTTPEndpoint         string
	NATSURL                   string
	ServiceName               string
	Version                   string
}

// DefaultConfig mirrors the defaults in the external-interfaces section.
func DefaultConfig() Config {
	return Config{
		DBPath:                   "./data/taskengine.db",
		WorkerCount:              4,
		SchedulerIntervalSeconds: 5,
		WebhookIntervalSeconds:   10,
		WebhookMaxRetries:        3,
		WebhookRetryDelaySeconds: 5,
		WebhookTimeoutSeconds:    30,
		ReaperIntervalSeconds:    30,
		ReaperStaleAfterSeconds:  600,
		ServiceName:              "taskengine",
		Version:                  "1.0.0",
	}
}

// Engine owns every long-lived component and its lifecycle.
type Engine struct {
	cfg Config

	Store      *store.Store
	Queue      *queue.Queue
	Pool       *worker.Pool
	Scheduler  *scheduler.Scheduler
	ResultProc *resultproc.Processor
	Workflow   *workflow.Manager
	Webhook    *webhook.Pipeline
	Reaper     *reaper.Reaper
	Dispatcher *rpc.Dispatcher
	Events     *events.Publisher

	cancel context.CancelFunc
}

// New opens the store and constructs every component; nothing is started yet.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	q := queue.New(1000)

	var httpRunner runner.Runner
	if cfg.AgentHTTPEndpoint != "" {
		httpRunner = runner.NewHTTPRunner(cfg.AgentHTTPEndpoint)
	}
	registry := runner.NewRegistry(httpRunner, runner.NewShellRunner())

	pool := worker.New(st, registry, q, cfg.WorkerCount)
	wfManager := workflow.New(st, q)

	pub, err := events.Connect(cfg.NATSURL, "taskengine.task")
	if err != nil {
		return nil, fmt.Errorf("connect event publisher: %w", err)
	}
	proc := resultproc.New(st, wfManager, pub)
	sched := scheduler.New(st, q, time.Duration(cfg.SchedulerIntervalSeconds)*time.Second, 100)
	rp := reaper.New(st, time.Duration(cfg.ReaperIntervalSeconds)*time.Second, time.Duration(cfg.ReaperStaleAfterSeconds)*time.Second)
	wh := webhook.New(st, webhook.Config{
		Interval:   time.Duration(cfg.WebhookIntervalSeconds) * time.Second,
		MaxRetries: cfg.WebhookMaxRetries,
		RetryDelay: time.Duration(cfg.WebhookRetryDelaySeconds) * time.Second,
		Timeout:    time.Duration(cfg.WebhookTimeoutSeconds) * time.Second,
	})

	dispatcher := rpc.NewDispatcher()
	rpc.RegisterMethods(dispatcher, st, wfManager, q, cfg.ServiceName, cfg.Version)

	return &Engine{
		cfg:        cfg,
		Store:      st,
		Queue:      q,
		Pool:       pool,
		Scheduler:  sched,
		ResultProc: proc,
		Workflow:   wfManager,
		Webhook:    wh,
		Reaper:     rp,
		Dispatcher: dispatcher,
		Events:     pub,
	}, nil
}

// Start launches every background component under a context derived from
// ctx; Shutdown cancels that context.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.Pool.Start(runCtx)
	go e.ResultProc.Run(runCtx, e.Pool.Results())

	if err := e.Scheduler.Start(runCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := e.Webhook.Start(runCtx); err != nil {
		return fmt.Errorf("start webhook pipeline: %w", err)
	}
	if err := e.Reaper.Start(runCtx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	return nil
}

// Shutdown broadcasts Shutdown to every worker, stops background loops, and
// closes the store. Pending work remains persisted and resumes on next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Scheduler.Stop()
	e.Webhook.Stop()
	e.Reaper.Stop()

	e.Queue.BroadcastShutdown(e.cfg.WorkerCount)
	if e.cancel != nil {
		e.cancel()
	}
	e.Events.Close()

	done := make(chan struct{})
	go func() { e.Pool.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}

	return e.Store.Close()
}
