package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// ControlRateLimiterConfig holds the configuration for rate limiting
type ControlRateLimiterConfig struct {
	RPS   float64 // allowed requests per second per client IP
	Burst int
}

// ControlRateLimiter limits mutating control endpoints per client IP.
// Connection start/stop/restart trigger IMAP dials and full refetches, so
// a misbehaving caller must not be able to hammer them.
func ControlRateLimiter(config ControlRateLimiterConfig) echo.MiddlewareFunc {
	if config.RPS <= 0 {
		config.RPS = 1
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(config.RPS),
			Burst:     config.Burst,
			ExpiresIn: 10 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error":   apperrors.ErrCodeTooManyRequests,
				"message": "Too many control requests, please slow down",
			})
		},
	})
}
