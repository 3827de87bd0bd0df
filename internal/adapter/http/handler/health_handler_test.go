package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func readiness(t *testing.T, h *HealthHandler) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealthLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler().Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected liveness 200, got %d", rec.Code)
	}
}

func TestHealthReadiness(t *testing.T) {
	h := NewHealthHandler()
	if code, body := readiness(t, h); code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("expected ready without checks, got %d %v", code, body)
	}

	h.Add("postgres", func(context.Context) error { return nil })
	if code, body := readiness(t, h); code != http.StatusOK || body["postgres"] != "ok" {
		t.Fatalf("expected ready, got %d %v", code, body)
	}

	h.Add("redis", func(context.Context) error { return errors.New("connection refused") })
	code, body := readiness(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "unavailable" {
		t.Fatalf("expected 503 when redis is down, got %d %v", code, body)
	}
	if body["redis"] != "connection refused" || body["postgres"] != "ok" {
		t.Fatalf("expected every check reported, got %v", body)
	}
}

func TestHealthReadinessCheckSeesDeadline(t *testing.T) {
	h := NewHealthHandler().Add("nats", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	if code, body := readiness(t, h); code != http.StatusOK {
		t.Fatalf("expected checks to run with a deadline, got %d %v", code, body)
	}
}
