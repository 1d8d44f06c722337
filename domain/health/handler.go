package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/oneboxhq/onebox-core/domain/classify"
	"github.com/oneboxhq/onebox-core/domain/notify"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ComponentStats is the processing snapshot gathered from the running
// pipeline components.
type ComponentStats struct {
	PipelineQueue   int            `json:"pipeline_queue_depth"`
	DedupeEntries   int            `json:"dedupe_entries"`
	Classifier      classify.Stats `json:"classifier"`
	Notify          notify.Depths  `json:"notify"`
	ActiveMailboxes int            `json:"active_mailboxes"`
}

// StatsResponse combines runtime statistics with pipeline state
type StatsResponse struct {
	GoVersion    string         `json:"go_version"`
	NumGoroutine int            `json:"num_goroutine"`
	MemAlloc     uint64         `json:"mem_alloc_bytes"`
	MemSys       uint64         `json:"mem_sys_bytes"`
	Uptime       string         `json:"uptime"`
	Components   ComponentStats `json:"components"`
}

var startTime = time.Now()

// Handler serves the health and stats endpoints.
type Handler struct {
	db      *sqlx.DB
	redis   *redis.Client
	collect func() ComponentStats
}

// NewHandler creates a health handler. redisClient may be nil; collect
// gathers the live component snapshot.
func NewHandler(db *sqlx.DB, redisClient *redis.Client, collect func() ComponentStats) *Handler {
	return &Handler{db: db, redis: redisClient, collect: collect}
}

// LivenessHandler handles the /health/live endpoint
// Returns 200 if the service is running (for Kubernetes liveness probe)
func (h *Handler) LivenessHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthHandler handles the /health endpoint
// Returns comprehensive health information including dependency checks
func (h *Handler) HealthHandler(c echo.Context) error {
	checks := make(map[string]Check)
	allHealthy := true

	dbCheck := h.checkDatabase(c.Request().Context())
	checks["database"] = dbCheck
	if dbCheck.Status != "ok" {
		allHealthy = false
	}

	if h.redis != nil {
		// Redis only backs notification dedupe; a failure degrades but
		// does not take the service down.
		checks["redis"] = h.checkRedis(c.Request().Context())
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// StatsHandler handles the /stats endpoint
// Returns runtime and pipeline statistics for monitoring
func (h *Handler) StatsHandler(c echo.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := StatsResponse{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		MemAlloc:     m.Alloc,
		MemSys:       m.Sys,
		Uptime:       time.Since(startTime).Round(time.Second).String(),
	}
	if h.collect != nil {
		resp.Components = h.collect()
	}

	return c.JSON(http.StatusOK, resp)
}

// checkDatabase checks if the database is responsive
func (h *Handler) checkDatabase(ctx context.Context) Check {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := h.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return Check{
			Status:  "error",
			Message: "Database connection failed",
			Latency: latency.String(),
		}
	}

	return Check{
		Status:  "ok",
		Latency: latency.String(),
	}
}

// checkRedis checks if the dedupe cache is responsive
func (h *Handler) checkRedis(ctx context.Context) Check {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := h.redis.Ping(ctx).Err()
	latency := time.Since(start)

	if err != nil {
		return Check{
			Status:  "error",
			Message: "Redis connection failed",
			Latency: latency.String(),
		}
	}

	return Check{
		Status:  "ok",
		Latency: latency.String(),
	}
}
