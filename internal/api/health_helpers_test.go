package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthOK(t *testing.T) {
	h, _ := newTestHandler(t, &stubNet{})

	recorder := serve(h, h.Health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var resp healthResponse
	decodeBody(t, recorder, &resp)
	if resp.Status != "ok" || len(resp.Components) != 2 {
		t.Fatalf("resp = %+v, want ok with two components", resp)
	}
}

func TestHealthDegradedWhenStorageNetworkDown(t *testing.T) {
	h, _ := newTestHandler(t, &stubNet{listErr: errors.New("connection refused")})

	recorder := serve(h, h.Health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
	var resp healthResponse
	decodeBody(t, recorder, &resp)
	if resp.Status != "degraded" {
		t.Fatalf("Status = %q, want degraded", resp.Status)
	}
}
