// Command taskengine runs the asynchronous task/workflow execution engine,
// serving its JSON-RPC surface either over stdio (mode=rpc, MCP-style) or as
// an HTTP API (mode=http-api, the default).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/swarmguard/taskengine/internal/engine"
	"github.com/swarmguard/taskengine/internal/platform/logging"
	"github.com/swarmguard/taskengine/internal/platform/otelinit"
	"github.com/swarmguard/taskengine/internal/rpc"
)

func main() {
	os.Exit(run())
}

func run() int {
	const service = "taskengine"
	logging.Init(service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, service)

	cfg := configFromEnv()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		return 1
	}
	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start engine", "error", err)
		return 1
	}

	mode := getEnvDefault("SWARM_SERVER_MODE", "http-api")
	var srv *http.Server
	serveErr := make(chan error, 1)
	var promAny http.Handler
	if h, ok := promHandler.(http.Handler); ok {
		promAny = h
	}

	switch mode {
	case "rpc":
		go rpc.ServeStdio(ctx, eng.Dispatcher, os.Stdin, os.Stdout)
		slog.Info("service started", "mode", "rpc")
	case "http-api":
		host := getEnvDefault("SWARM_HTTP_HOST", "0.0.0.0")
		port := getEnvDefault("SWARM_HTTP_PORT", "8080")
		httpServer := rpc.NewHTTPServer(eng.Dispatcher, 50, 20, promAny)
		srv = &http.Server{Addr: host + ":" + port, Handler: httpServer.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
				serveErr <- err
				stop()
			}
		}()
		slog.Info("service started", "mode", "http-api", "addr", srv.Addr)
	default:
		slog.Error("unknown server mode", "mode", mode)
		return 1
	}

	<-ctx.Done()
	slog.Info("shutdown initiated")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		_ = srv.Shutdown(ctxShutdown)
	}
	if err := eng.Shutdown(ctxShutdown); err != nil {
		slog.Error("engine shutdown error", "error", err)
	}
	otelinit.Flush(ctxShutdown, shutdownTrace)
	_ = shutdownMetrics(ctxShutdown)

	slog.Info("shutdown complete")
	select {
	case <-serveErr:
		return 1
	default:
	}
	return 0
}

func configFromEnv() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.DBPath = getEnvDefault("SWARM_DB_PATH", cfg.DBPath)
	cfg.WorkerCount = getEnvInt("SWARM_WORKER_COUNT", cfg.WorkerCount)
	cfg.SchedulerIntervalSeconds = getEnvInt("SWARM_SCHEDULER_INTERVAL_SECONDS", cfg.SchedulerIntervalSeconds)
	cfg.WebhookIntervalSeconds = getEnvInt("SWARM_WEBHOOK_INTERVAL_SECONDS", cfg.WebhookIntervalSeconds)
	cfg.WebhookMaxRetries = getEnvInt("SWARM_WEBHOOK_MAX_RETRIES", cfg.WebhookMaxRetries)
	cfg.WebhookRetryDelaySeconds = getEnvInt("SWARM_WEBHOOK_RETRY_DELAY_SECONDS", cfg.WebhookRetryDelaySeconds)
	cfg.WebhookTimeoutSeconds = getEnvInt("SWARM_WEBHOOK_TIMEOUT_SECONDS", cfg.WebhookTimeoutSeconds)
	cfg.ReaperIntervalSeconds = getEnvInt("SWARM_REAPER_INTERVAL_SECONDS", cfg.ReaperIntervalSeconds)
	cfg.ReaperStaleAfterSeconds = getEnvInt("SWARM_REAPER_STALE_AFTER_SECONDS", cfg.ReaperStaleAfterSeconds)
	cfg.AgentHTTPEndpoint = os.Getenv("SWARM_AGENT_HTTP_ENDPOINT")
	cfg.NATSURL = os.Getenv("SWARM_NATS_URL")
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}
