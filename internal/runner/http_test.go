package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swarmguard/taskengine/internal/model"
)

func TestHTTPRunnerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpRunnerRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(httpRunnerResponse{Result: "processed:" + req.Instructions})
	}))
	defer srv.Close()

	r := NewHTTPRunner(srv.URL)
	result, err := r.Run(context.Background(), model.Task{ID: "t1", AgentInstructions: "do-it"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "processed:do-it" {
		t.Fatalf("got %q", result)
	}
}

func TestHTTPRunnerErrorStatusRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPRunner(srv.URL)
	_, err := r.Run(context.Background(), model.Task{ID: "t1", AgentInstructions: "do-it"})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
