// Package api exposes queued scenario runs over HTTP.
package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/config"
)

// Handler serves health and browser status.
type Handler struct {
	engine  browser.Engine
	started time.Time
}

// NewHandler creates a new handler. engine may be nil.
func NewHandler(engine browser.Engine) *Handler {
	return &Handler{engine: engine, started: time.Now()}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorHandler is the custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(Response{
		Success: false,
		Error:   err.Error(),
	})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "ok",
			"version":   config.Version,
			"uptime_s":  int64(time.Since(h.started).Seconds()),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BrowserStatus reports the engine backing queued runs.
func (h *Handler) BrowserStatus(c *fiber.Ctx) error {
	if h.engine == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no browser engine configured")
	}
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"engine":   h.engine.Name(),
			"running":  h.engine.IsRunning(),
			"endpoint": h.engine.GetEndpoint(),
		},
	})
}
