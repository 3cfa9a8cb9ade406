package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"mediavault/internal/api"
	"mediavault/internal/auth"
	"mediavault/internal/i18n"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/storage"
	"mediavault/internal/storagenet"
)

type fakeUploadContext struct {
	datasetID string
}

func (f *fakeUploadContext) Upload(_ context.Context, filename, _ string, payload []byte) (storagenet.UploadResult, error) {
	return storagenet.UploadResult{
		ContentID: "cid-" + filename,
		Size:      int64(len(payload)),
		DatasetID: f.datasetID,
	}, nil
}

func (f *fakeUploadContext) DatasetID() string { return f.datasetID }

type fakeStorageNetwork struct {
	providers []storagenet.Provider
}

func (f *fakeStorageNetwork) ListProviders(context.Context) ([]storagenet.Provider, error) {
	return f.providers, nil
}

func (f *fakeStorageNetwork) CreateUploadContext(context.Context, int64) (storagenet.UploadContext, error) {
	return &fakeUploadContext{datasetID: "ds-test"}, nil
}

func newTestHandler(t *testing.T) (*api.Handler, *storage.Storage) {
	t.Helper()
	store, err := storage.NewJSONRepository("")
	if err != nil {
		t.Fatalf("NewJSONRepository error: %v", err)
	}
	tokens, err := auth.NewTokenService("server-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService error: %v", err)
	}
	bundle, err := i18n.NewBundle()
	if err != nil {
		t.Fatalf("NewBundle error: %v", err)
	}
	net := &fakeStorageNetwork{providers: []storagenet.Provider{{
		ID:      3,
		Name:    "vault",
		Active:  true,
		Service: "s3",
	}}}
	handler := api.NewHandler(store, tokens, net, func(h *api.Handler) {
		h.Messages = bundle
	})
	return handler, store
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	handler, store := newTestHandler(t)
	seedAdmin(t, store)
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv
}

func seedAdmin(t *testing.T, store *storage.Storage) {
	t.Helper()
	if _, err := store.CreateUser(storage.CreateUserParams{
		Username: "admin",
		Email:    "admin@example.com",
		Password: "password123",
		Role:     "admin",
	}); err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
}

func (s *Server) serve(req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(recorder, req)
	return recorder
}

func loginRequest(login, password string) *http.Request {
	body := fmt.Sprintf(`{"login":%q,"password":%q}`, login, password)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func loginToken(t *testing.T, srv *Server) string {
	t.Helper()
	recorder := srv.serve(loginRequest("admin", "password123"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestLoginThroughFullChain(t *testing.T) {
	srv := newTestServer(t, Config{})

	recorder := srv.serve(loginRequest("admin", "password123"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers on API response")
	}
}

func TestAuditLogAttributesActingUser(t *testing.T) {
	var buf bytes.Buffer
	srv := newTestServer(t, Config{AuditLogger: slog.New(slog.NewJSONHandler(&buf, nil))})
	token := loginToken(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/categories", strings.NewReader(`{"name":"docs"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if recorder := srv.serve(req); recorder.Code != http.StatusCreated {
		t.Fatalf("create category status = %d: %s", recorder.Code, recorder.Body.String())
	}

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			t.Fatalf("parse audit line %q: %v", line, err)
		}
		if parsed["path"] == "/api/v1/categories" {
			entry = parsed
		}
	}
	if entry == nil {
		t.Fatalf("no audit entry for the mutation, log: %s", buf.String())
	}
	if userID, _ := entry["user_id"].(string); userID == "" {
		t.Fatalf("audit entry missing user_id: %v", entry)
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Fatalf("audit status = %v, want %d", entry["status"], http.StatusCreated)
	}
}

func TestHealthzRoute(t *testing.T) {
	srv := newTestServer(t, Config{})

	recorder := srv.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, Config{Metrics: metrics.New()})

	srv.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	recorder := srv.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "mediavault_http_requests_total") {
		t.Fatal("metrics exposition is missing request counters")
	}
}

func TestLoginRateLimitSetsRetryAfter(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: RateLimitConfig{
		LoginLimit:  2,
		LoginWindow: time.Minute,
	}})

	for i := 0; i < 2; i++ {
		recorder := srv.serve(loginRequest("admin", "wrong-password"))
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, recorder.Code)
		}
	}

	recorder := srv.serve(loginRequest("admin", "wrong-password"))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	var resp struct {
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode limit response: %v", err)
	}
	if resp.Error.Reason != "rate_limit.exceeded" {
		t.Fatalf("reason = %q, want rate_limit.exceeded", resp.Error.Reason)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: RateLimitConfig{
		GlobalRPS:   0.001,
		GlobalBurst: 1,
	}})

	if recorder := srv.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil)); recorder.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", recorder.Code)
	}
	if recorder := srv.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil)); recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", recorder.Code)
	}
}

func TestUploadThroughFullChain(t *testing.T) {
	srv := newTestServer(t, Config{})
	token := loginToken(t, srv)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("providerId", "3"); err != nil {
		t.Fatalf("write providerId: %v", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="clip.mp4"`)
	header.Set("Content-Type", "video/mp4")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte("payload")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	recorder := srv.serve(req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", recorder.Code, recorder.Body.String())
	}

	listRecorder := srv.serve(httptest.NewRequest(http.MethodGet, "/api/v1/media/list", nil))
	if listRecorder.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listRecorder.Code)
	}
	if !strings.Contains(listRecorder.Body.String(), "clip.mp4") {
		t.Fatalf("listing does not include uploaded record: %s", listRecorder.Body.String())
	}
}

func TestAllowLoginFallsBackToLocalBuckets(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute})

	allowed, _, err := rl.AllowLogin("10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("first attempt allowed=%v err=%v, want allowed", allowed, err)
	}
	allowed, retryAfter, err := rl.AllowLogin("10.0.0.1")
	if err != nil {
		t.Fatalf("AllowLogin error: %v", err)
	}
	if allowed {
		t.Fatal("second attempt within the window should be limited")
	}
	if retryAfter <= 0 {
		t.Fatalf("retryAfter = %v, want positive", retryAfter)
	}

	// A different client keeps its own budget.
	if allowed, _, _ := rl.AllowLogin("10.0.0.2"); !allowed {
		t.Fatal("separate client unexpectedly limited")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	bucket := newTokenBucket(1000, 1)
	if !bucket.Allow() {
		t.Fatal("fresh bucket should allow")
	}
	if bucket.Allow() {
		t.Fatal("drained bucket should block")
	}
	time.Sleep(5 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("bucket should refill over time")
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "forwarded", xff: "203.0.113.9, 10.0.0.1", remoteAddr: "10.0.0.2:1234", want: "203.0.113.9"},
		{name: "real ip", realIP: "203.0.113.7", remoteAddr: "10.0.0.2:1234", want: "203.0.113.7"},
		{name: "remote addr", remoteAddr: "10.0.0.2:1234", want: "10.0.0.2"},
		{name: "no port", remoteAddr: "10.0.0.2", want: "10.0.0.2"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.realIP != "" {
			req.Header.Set("X-Real-IP", tc.realIP)
		}
		if got := extractClientIP(req); got != tc.want {
			t.Fatalf("%s: extractClientIP = %q, want %q", tc.name, got, tc.want)
		}
	}
}
