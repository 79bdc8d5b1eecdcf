package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessCheckTimeout = 2 * time.Second

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// HealthHandler exposes liveness and readiness information.
type HealthHandler struct {
	startedAt    time.Time
	checks       []readinessCheck
	storeHealthy func() bool
}

// HealthOption customizes the handler.
type HealthOption func(*HealthHandler)

// WithReadinessCheck registers a hard dependency probe. A failing probe
// makes readiness report 503.
func WithReadinessCheck(name string, check func(ctx context.Context) error) HealthOption {
	return func(h *HealthHandler) {
		if name != "" && check != nil {
			h.checks = append(h.checks, readinessCheck{name: name, check: check})
		}
	}
}

// WithSessionStoreFlag surfaces the token service's degraded-store state.
// The service stays ready while degraded, but operators can see the gap.
func WithSessionStoreFlag(healthy func() bool) HealthOption {
	return func(h *HealthHandler) {
		h.storeHealthy = healthy
	}
}

// NewHealthHandler builds a new health handler instance.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{startedAt: time.Now().UTC()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Status reports liveness.
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
	})
}

// Readiness probes every registered dependency.
func (h *HealthHandler) Readiness(c *gin.Context) {
	resp := ReadinessResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)+1),
	}
	statusCode := http.StatusOK

	for _, probe := range h.checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessCheckTimeout)
		err := probe.check(ctx)
		cancel()

		if err != nil {
			resp.Checks[probe.name] = err.Error()
			resp.Status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[probe.name] = "ok"
	}

	if h.storeHealthy != nil {
		if h.storeHealthy() {
			resp.Checks["session_store"] = "ok"
		} else {
			resp.Checks["session_store"] = "degraded"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}

	c.JSON(statusCode, resp)
}
