package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPServerHealthEndpoint(t *testing.T) {
	d := NewDispatcher()
	d.Register("health", func(json.RawMessage) (interface{}, error) {
		return map[string]string{"status": "healthy"}, nil
	})
	srv := NewHTTPServer(d, 50, 20, nil)
	defer srv.Stop()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestHTTPServerRPCRoundTrip(t *testing.T) {
	d := NewDispatcher()
	d.Register("echo", func(params json.RawMessage) (interface{}, error) {
		return string(params), nil
	})
	srv := NewHTTPServer(d, 50, 20, nil)
	defer srv.Stop()

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"echo","params":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
}

func TestHTTPServerRejectsNonPostToRPC(t *testing.T) {
	d := NewDispatcher()
	srv := NewHTTPServer(d, 50, 20, nil)
	defer srv.Stop()

	req := httptest.NewRequest(http.MethodGet, "/v1/rpc", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got status %d, want 405", rec.Code)
	}
}
