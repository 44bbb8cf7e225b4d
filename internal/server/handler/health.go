package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// HealthSource reports engine progress for the health endpoint.
type HealthSource interface {
	LastSeq() uint64
	Engine() domain.Address
}

// DependencyCheck is one backing service the health endpoint pings.
type DependencyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// dependencyTimeout bounds each dependency ping.
const dependencyTimeout = 2 * time.Second

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	source  HealthSource
	runID   string
	started time.Time
	checks  []DependencyCheck
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. runID identifies this process's
// event history.
func NewHealthHandler(source HealthSource, runID string, logger *slog.Logger, checks ...DependencyCheck) *HealthHandler {
	return &HealthHandler{source: source, runID: runID, started: time.Now(), checks: checks, logger: logger}
}

// HealthCheck responds with the engine's progress and the state of each
// configured dependency. Any failing dependency turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "dependency unhealthy",
				slog.String("dependency", c.Name),
				slog.String("error", err.Error()),
			)
			deps[c.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "ok"
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"run_id":    h.runID,
		"engine":    h.source.Engine().Hex(),
		"last_seq":  h.source.LastSeq(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	writeJSON(w, code, body)
}
