package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Check verifies one dependency.
type Check func(ctx context.Context) error

// readinessTimeout bounds each dependency check.
const readinessTimeout = 5 * time.Second

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewHealthHandler creates a handler with no dependency checks.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checks: make(map[string]Check)}
}

// Add registers a readiness check under name, replacing any earlier one.
func (h *HealthHandler) Add(name string, check Check) *HealthHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	return h
}

// Liveness answers 200 while the process serves requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness runs every check concurrently and reports each one. It
// answers 503 if any dependency failed.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]string{"status": "ready"}
		failed  bool
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()

			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = err.Error()
				failed = true
				return
			}
			results[name] = "ok"
		}()
	}
	wg.Wait()

	status := http.StatusOK
	if failed {
		results["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, results)
}
