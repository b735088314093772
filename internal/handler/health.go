package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/sentra-io/devicetrust/internal/client"
	"github.com/sentra-io/devicetrust/internal/util/logger"
)

var startTime = time.Now()

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthChecker is one named dependency probe.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// HealthHandler reports dependency health for /healthz. The database probe
// is authoritative; Redis degrades rather than fails, since the engine runs
// without it.
type HealthHandler struct {
	checkers []HealthChecker
}

func NewHealthHandler(db *sql.DB, rdb *client.RedisClient) *HealthHandler {
	h := &HealthHandler{}
	if db != nil {
		h.checkers = append(h.checkers, &databaseChecker{db: db})
	}
	if rdb != nil {
		h.checkers = append(h.checkers, &redisChecker{rdb: rdb})
	}
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(startTime).String(),
		Checks:    make(map[string]CheckResult),
	}

	overall := HealthStatusHealthy
	for _, checker := range h.checkers {
		start := time.Now()
		result := checker.Check(ctx)
		result.Latency = time.Since(start).String()
		response.Checks[checker.Name()] = result

		switch {
		case result.Status == HealthStatusUnhealthy && checker.Name() == "database":
			overall = HealthStatusUnhealthy
		case result.Status != HealthStatusHealthy && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}
	response.Status = overall

	statusCode := http.StatusOK
	if overall == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, statusCode, response)
}

type databaseChecker struct {
	db *sql.DB
}

func (d *databaseChecker) Name() string { return "database" }

func (d *databaseChecker) Check(ctx context.Context) CheckResult {
	if err := d.db.PingContext(ctx); err != nil {
		logger.Error("Database ping error: %v", err)
		return CheckResult{Status: HealthStatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy}
}

type redisChecker struct {
	rdb *client.RedisClient
}

func (r *redisChecker) Name() string { return "redis" }

func (r *redisChecker) Check(ctx context.Context) CheckResult {
	if err := r.rdb.HealthCheck(ctx); err != nil {
		return CheckResult{Status: HealthStatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy}
}
