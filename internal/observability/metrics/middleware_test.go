package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/abc123", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	got := testutil.ToFloat64(recorder.requestsTotal.WithLabelValues("GET", "/api/v1/media/{id}", "418"))
	if got != 1 {
		t.Fatalf("requests_total = %v, want 1", got)
	}
}

func TestHTTPMiddlewareNilRecorderPassesThrough(t *testing.T) {
	handler := HTTPMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
}

func TestResponseRecorderDefaultsToOK(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	if rr.Status() != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rr.Status())
	}
	rr.WriteHeader(http.StatusBadGateway)
	if rr.Status() != http.StatusBadGateway {
		t.Fatalf("Status = %d, want 502", rr.Status())
	}
}
