package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/security"
)

// maxBodySize caps POST bodies; suites are small text files.
const maxBodySize = 1 << 20

// RouteConfig holds configuration for routes
type RouteConfig struct {
	Engine     browser.Engine
	Queue      RunQueue
	Gatherer   prometheus.Gatherer
	RateLimit  int // requests per minute per client
	PublicURL  string
	ResultTTL  time.Duration
	MaxRetries int
}

// SetupRoutes registers every route. It returns the rate limiter so the
// caller can stop it on shutdown.
func SetupRoutes(app *fiber.App, cfg RouteConfig) *security.RateLimiter {
	handler := NewHandler(cfg.Engine)
	app.Get("/health", handler.HealthCheck)

	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	ui := app.Group("/uicheck")
	ui.Use(security.SecurityHeadersMiddleware())
	ui.Get("/browser/status", handler.BrowserStatus)

	burst := cfg.RateLimit / 6
	if burst < 1 {
		burst = 1
	}
	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit,
		Burst:             burst,
	})
	secMiddleware := security.NewMiddleware(rateLimiter)

	runHandler := NewRunHandler(cfg.Queue, cfg.PublicURL, cfg.ResultTTL, cfg.MaxRetries)

	runs := ui.Group("/runs")
	runs.Use(security.RequestValidationMiddleware(maxBodySize))
	runs.Post("", secMiddleware.RateLimitMiddleware(), runHandler.CreateRun)
	runs.Get("/:run_id", runHandler.GetRunStatus)
	runs.Get("/:run_id/result", runHandler.GetRunResult)
	runs.Post("/:run_id/cancel", runHandler.CancelRun)
	runs.Get("/:run_id/events", runHandler.StreamEvents)

	ui.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ui.Get("/ws", websocket.New(runHandler.HandleWebSocket))

	return rateLimiter
}
