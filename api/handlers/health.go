package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthCheck is a named readiness probe for one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult reports one probe's outcome.
type CheckResult struct {
	Status  string `json:"status"` // pass | fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// HealthStatus is the readiness payload.
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy | unhealthy
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// HealthHandler answers liveness and readiness probes. Liveness only says
// the process is up; readiness runs the registered dependency checks.
type HealthHandler struct {
	version string
	checks  []HealthCheck
	logger  *zap.Logger
}

func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		version: version,
		logger:  logger.With(zap.String("component", "health_handler")),
	}
}

// RegisterCheck adds a readiness probe. Not safe to call after serving
// starts.
func (h *HealthHandler) RegisterCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// Register mounts the handler's routes on mux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Liveness)
	mux.HandleFunc("GET /readyz", h.Readiness)
}

// Liveness reports the process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
	})
}

// Readiness runs every registered check concurrently; any failure turns
// the payload unhealthy with a 503. A slow dependency only costs its own
// probe time, not the sum of all of them.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(h.checks)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	healthy := true
	for _, check := range h.checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(gctx)
			result := CheckResult{
				Status:  "pass",
				Latency: time.Since(start).String(),
			}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", check.Name),
					zap.Error(err),
				)
			}
			mu.Lock()
			status.Checks[check.Name] = result
			if err != nil {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // failures are folded into the results, never returned

	code := http.StatusOK
	if !healthy {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}
