package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v3"
)

// Pinger проверяет доступность хранилища документов.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ============================================================
// Health Check Handlers
// ============================================================

type HealthHandler struct {
	storage Pinger
	started atomic.Bool
}

func NewHealthHandler(storage Pinger) *HealthHandler {
	return &HealthHandler{storage: storage}
}

// MarkStarted вызывается после восстановления состояния.
func (h *HealthHandler) MarkStarted() {
	h.started.Store(true)
}

// LivenessProbe проверяет, что приложение работает
func (h *HealthHandler) LivenessProbe(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "alive",
	})
}

// ReadinessProbe проверяет готовность: состояние восстановлено, хранилище отвечает
func (h *HealthHandler) ReadinessProbe(c fiber.Ctx) error {
	if !h.started.Load() {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "starting"})
	}
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

// StartupProbe проверяет, что приложение успешно запустилось
func (h *HealthHandler) StartupProbe(c fiber.Ctx) error {
	if !h.started.Load() {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "starting"})
	}
	return c.JSON(fiber.Map{
		"status": "started",
	})
}

// Register вешает пробы на /health.
func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health/live", h.LivenessProbe)
	app.Get("/health/ready", h.ReadinessProbe)
	app.Get("/health/startup", h.StartupProbe)
}
