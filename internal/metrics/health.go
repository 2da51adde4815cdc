package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gftdcojp/kafka-replay-buffer/internal/config"
	"github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IngestProbe reports whether the upstream consumer is still running.
type IngestProbe interface {
	Running() bool
}

// HealthChecker runs health probes.
type HealthChecker struct {
	redisClient redis.UniversalClient
	ingest      IngestProbe
}

// NewHealthChecker creates a new health checker. Either dependency may be
// nil, in which case its check is skipped.
func NewHealthChecker(redisClient redis.UniversalClient, ingest IngestProbe) *HealthChecker {
	return &HealthChecker{
		redisClient: redisClient,
		ingest:      ingest,
	}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks if the service can handle requests.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}

	if h.ingest != nil {
		if !h.ingest.Running() {
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: "kafka", Status: "stopped",
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: "kafka", Status: "running",
			})
		}
	}

	if h.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			// The durable tier degrades to memory-only on failure, so a
			// Redis outage is reported but does not flip readiness.
			status.Checks = append(status.Checks, Check{
				Name: "redis", Status: "error", Error: err.Error(),
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: "redis", Status: "ok",
			})
		}
	}

	return status
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	mux := http.NewServeMux()

	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness())
	})

	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness())
	})

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeHealth(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
