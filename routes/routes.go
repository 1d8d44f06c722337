package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/domain/account"
	"github.com/oneboxhq/onebox-core/domain/health"
	"github.com/oneboxhq/onebox-core/domain/notify"
	"github.com/oneboxhq/onebox-core/domain/search"
	"github.com/oneboxhq/onebox-core/middleware"
)

// Handlers bundles the per-domain handlers for route registration.
type Handlers struct {
	Health  *health.Handler
	Search  *search.Handler
	Notify  *notify.Handler
	Account *account.Handler
}

// RegisterRoutes wires the operational API.
func RegisterRoutes(e *echo.Echo, h Handlers) {
	// Health and monitoring
	e.GET("/health", h.Health.HealthHandler)
	e.GET("/health/live", h.Health.LivenessHandler)
	e.GET("/stats", h.Health.StatsHandler)

	// Indexed emails
	emailGroup := e.Group("/emails")
	emailGroup.GET("", h.Search.SearchHandler)
	emailGroup.GET("/:id", h.Search.GetHandler)

	// Notification audit records
	notifyGroup := e.Group("/notifications")
	notifyGroup.GET("", h.Notify.ListHandler)
	notifyGroup.POST("/read_all", h.Notify.MarkAllReadHandler)
	notifyGroup.POST("/:id/read", h.Notify.MarkReadHandler)

	// Connection control; rate limited because start/restart trigger
	// IMAP dials and full refetches
	limiter := middleware.ControlRateLimiter(middleware.ControlRateLimiterConfig{
		RPS:   viper.GetFloat64("CONTROL_RATE_LIMIT_RPS"),
		Burst: viper.GetInt("CONTROL_RATE_LIMIT_BURST"),
	})
	e.GET("/accounts", h.Account.ListHandler)
	e.POST("/accounts/:id/start", h.Account.StartHandler, limiter)
	e.POST("/accounts/:id/stop", h.Account.StopHandler, limiter)
	e.POST("/owners/:id/restart", h.Account.RestartOwnerHandler, limiter)
}
