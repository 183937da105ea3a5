package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Version     string           `json:"version"`
	Agent       string           `json:"agent,omitempty"`
	AgentStatus string           `json:"agent_status,omitempty"`
	State       string           `json:"state,omitempty"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func runCheck(ctx context.Context, p pinger) Check {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: "fail", Message: err.Error()}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// checks pings the broker and, when it supports it, the message log.
func (h *Handler) checks(ctx context.Context) (map[string]Check, bool) {
	checks := make(map[string]Check)
	allHealthy := true

	checks["broker"] = runCheck(ctx, h.broker)
	if checks["broker"].Status != "pass" {
		allHealthy = false
	}

	if p, ok := h.log.(pinger); ok {
		checks["message_log"] = runCheck(ctx, p)
		if checks["message_log"].Status != "pass" {
			allHealthy = false
		}
	}

	return checks, allHealthy
}

func (h *Handler) writeHealth(w http.ResponseWriter, resp HealthResponse, healthy bool) {
	resp.Status = "healthy"
	statusCode := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	resp.Version = version
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	h.JSON(w, statusCode, resp)
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks, healthy := h.checks(ctx)
	h.writeHealth(w, HealthResponse{Checks: checks}, healthy)
}
