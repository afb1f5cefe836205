package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/swarmguard/taskengine/internal/platform/resilience"
)

// HTTPServer exposes the dispatcher as a generic JSON-RPC endpoint
// (POST /v1/rpc) alongside /health and, when available, /metrics — the
// http-api server mode.
type HTTPServer struct {
	dispatcher *Dispatcher
	limiter    *resilience.HybridRateLimiter
	mux        *http.ServeMux
}

// NewHTTPServer builds a mux wired to d. requestBurst/requestsPerSecond gate
// admission to every /v1/rpc request, whatever its method, via a hybrid rate
// limiter.
func NewHTTPServer(d *Dispatcher, requestBurst int, requestsPerSecond float64, promHandler http.Handler) *HTTPServer {
	s := &HTTPServer{
		dispatcher: d,
		limiter:    resilience.NewHybridRateLimiter(requestBurst, requestsPerSecond, requestBurst*4, 10*time.Millisecond),
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := d.Handle([]byte(`{"jsonrpc":"2.0","method":"health"}`))
		writeJSON(w, http.StatusOK, resp.Result)
	})
	s.mux.HandleFunc("/v1/rpc", s.handleRPC)
	if promHandler != nil {
		s.mux.Handle("/metrics", promHandler)
	}
	return s
}

// Handler returns the underlying http.Handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

// Stop releases the rate limiter's background goroutines.
func (s *HTTPServer) Stop() {
	s.limiter.Stop()
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.limiter.AllowOrWait(ctx); err != nil {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	resp := s.dispatcher.Handle(body)
	status := http.StatusOK
	if resp.Error != nil {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
