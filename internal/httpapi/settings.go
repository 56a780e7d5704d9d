package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/logpose/terminal-gateway/internal/identity"
	"github.com/logpose/terminal-gateway/internal/settings"
)

// SettingsHandler exposes the admin-only allowlist read/write surface
// (spec §6.6).
type SettingsHandler struct {
	store *settings.Store
}

func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

func (h *SettingsHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/api/admin/settings", h.requireAdmin, h.get)
	router.Put("/api/admin/settings", h.requireAdmin, h.update)
}

func (h *SettingsHandler) requireAdmin(c *fiber.Ctx) error {
	user := identity.UserFromContext(c)
	if !h.store.IsAdmin(user) {
		return fiber.NewError(fiber.StatusForbidden, "admin rights required")
	}
	return c.Next()
}

func (h *SettingsHandler) get(c *fiber.Ctx) error {
	return c.JSON(h.store.Snapshot())
}

type updateSettingsRequest struct {
	AllowlistEmails []string `json:"allowlistEmails"`
	AdminEmails     []string `json:"adminEmails"`
}

func (h *SettingsHandler) update(c *fiber.Ctx) error {
	user := identity.UserFromContext(c)

	var req updateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.store.Update(req.AllowlistEmails, req.AdminEmails, user); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to persist settings")
	}
	return c.JSON(h.store.Snapshot())
}
