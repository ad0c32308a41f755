package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Health serves liveness and readiness for a binary.
type Health struct {
	service string
	version string
	checks  map[string]Check
	timeout time.Duration
}

// NewHealth creates a health handler. Readiness runs every check.
func NewHealth(service, version string, checks map[string]Check) *Health {
	return &Health{service: service, version: version, checks: checks, timeout: 2 * time.Second}
}

// Live handles GET /health
func (h *Health) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.service,
		"version": h.version,
	})
}

// ReadyResponse lists failing checks by name.
type ReadyResponse struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Ready handles GET /ready
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadyResponse{Status: "ready"}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			if resp.Failed == nil {
				resp.Failed = make(map[string]string)
			}
			resp.Failed[name] = err.Error()
		}
	}
	if len(resp.Failed) > 0 {
		resp.Status = "not ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
