package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddlewareAllowsConfiguredOrigin(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"https://console.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	middleware := corsMiddleware(policy, nil, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/list", nil)
	req.Header.Set("Origin", "https://console.example.com")
	recorder := httptest.NewRecorder()
	middleware.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSMiddlewareBlocksUnknownOrigin(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"https://console.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	middleware := corsMiddleware(policy, nil, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/list", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	recorder := httptest.NewRecorder()
	middleware.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
}

func TestCORSMiddlewareAllowsSameOrigin(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	middleware := corsMiddleware(policy, nil, okHandler())

	req := httptest.NewRequest(http.MethodGet, "http://vault.example.com/api/v1/media/list", nil)
	req.Host = "vault.example.com"
	req.Header.Set("Origin", "http://vault.example.com")
	recorder := httptest.NewRecorder()
	middleware.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for same-origin request", recorder.Code)
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"https://console.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	middleware := corsMiddleware(policy, nil, okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/media/upload", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	middleware.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatal("missing Access-Control-Allow-Methods header")
	}
}

func TestNewCORSPolicyRejectsBareHost(t *testing.T) {
	if _, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"console.example.com"}}); err == nil {
		t.Fatal("expected error for origin without scheme")
	}
}
