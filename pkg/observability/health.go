package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ProbeResult is the outcome of checking one dependency.
type ProbeResult struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms,omitempty"`
}

// HealthStatus is the readiness report. The directory database and the
// session store are both on the sign-in path, so either one failing makes
// the whole service unhealthy.
type HealthStatus struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Directory *ProbeResult `json:"directory,omitempty"`
	Sessions  *ProbeResult `json:"sessions,omitempty"`
}

// HealthChecker probes the service's dependencies. Either handle may be
// nil; a nil dependency is not probed (the memory session backend has no
// probe, for example).
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redis}
}

// Liveness answers 200 whenever the process is serving.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness probes the dependencies and answers 503 when any is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs every configured probe and folds the results.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}

	if h.db != nil {
		result := h.probeDirectory(ctx)
		status.Directory = &result
		switch result.Status {
		case StatusUnhealthy:
			status.Status = StatusUnhealthy
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}

	if h.redis != nil {
		result := h.probeSessions(ctx)
		status.Sessions = &result
		if result.Status == StatusUnhealthy {
			// No session store means no login can complete.
			status.Status = StatusUnhealthy
		}
	}

	return status
}

func (h *HealthChecker) probeDirectory(ctx context.Context) ProbeResult {
	start := time.Now()

	if err := h.db.PingContext(ctx); err != nil {
		return ProbeResult{Status: StatusUnhealthy, Message: err.Error(), Latency: time.Since(start)}
	}

	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return ProbeResult{Status: StatusUnhealthy, Message: "query failed: " + err.Error(), Latency: time.Since(start)}
	}

	result := ProbeResult{Status: StatusHealthy, Latency: time.Since(start)}
	if stats := h.db.Stats(); stats.OpenConnections >= stats.MaxOpenConnections {
		result.Status = StatusDegraded
		result.Message = "connection pool exhausted"
	}
	return result
}

func (h *HealthChecker) probeSessions(ctx context.Context) ProbeResult {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ProbeResult{Status: StatusUnhealthy, Message: err.Error(), Latency: time.Since(start)}
	}
	return ProbeResult{Status: StatusHealthy, Latency: time.Since(start)}
}

// RegisterHealthRoutes mounts the probe endpoints on mux.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
