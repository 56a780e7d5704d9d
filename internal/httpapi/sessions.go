// Package httpapi implements the Session HTTP surface (spec §6.2): tab
// listing and lifecycle operations layered on top of the Session Manager.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/audit"
	"github.com/logpose/terminal-gateway/internal/identity"
	"github.com/logpose/terminal-gateway/internal/session"
)

type Handler struct {
	sessions *session.Manager
	audit    *audit.Sink
}

func NewHandler(sessions *session.Manager, auditSink *audit.Sink) *Handler {
	return &Handler{sessions: sessions, audit: auditSink}
}

// RegisterRoutes mounts the session surface under router, which is
// expected to already be behind the identity gate.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Get("/api/sessions", h.list)
	router.Post("/api/sessions", h.create)
	router.Delete("/api/sessions/:id", h.terminate)
	router.Patch("/api/sessions/:id", h.rename)
	router.Get("/api/sessions/all", h.listAll)
}

type tabView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	CreatedAt string `json:"createdAt"`
	Branch    string `json:"branch"`
}

func toTab(s *session.Session) tabView {
	return tabView{
		ID:        s.ID,
		Name:      s.Name(),
		State:     string(s.State()),
		CreatedAt: s.CreatedAt().Format(time.RFC3339),
		Branch:    s.Branch,
	}
}

func (h *Handler) list(c *fiber.Ctx) error {
	user := identity.UserFromContext(c)
	repoID := c.Query("repoId")

	sessions := h.sessions.ListForUser(user, repoID)
	tabs := make([]tabView, 0, len(sessions))
	for _, s := range sessions {
		tabs = append(tabs, toTab(s))
	}
	return c.JSON(fiber.Map{"tabs": tabs})
}

func (h *Handler) listAll(c *fiber.Ctx) error {
	user := identity.UserFromContext(c)
	sessions := h.sessions.ListForUser(user, "")
	tabs := make([]tabView, 0, len(sessions))
	for _, s := range sessions {
		tabs = append(tabs, toTab(s))
	}
	return c.JSON(fiber.Map{"tabs": tabs})
}

type createSessionRequest struct {
	RepoID string `json:"repoId"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
}

func (h *Handler) create(c *fiber.Ctx) error {
	user := identity.UserFromContext(c)

	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil || req.RepoID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	s, err := h.sessions.Create(session.CreateOptions{
		UserEmail: user,
		RepoID:    req.RepoID,
		Branch:    req.Branch,
		Name:      req.Name,
	})
	if err != nil {
		return mapSessionError(err)
	}

	h.audit.Record("session.create", user, map[string]any{"sessionId": s.ID, "repoId": req.RepoID})
	return c.Status(fiber.StatusCreated).JSON(toTab(s))
}

func mapSessionError(err error) error {
	ae, ok := apperror.As(err)
	if !ok {
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
	switch ae.Kind {
	case apperror.KindPerUserLimit:
		return fiber.NewError(fiber.StatusTooManyRequests, "MAX_SESSIONS_PER_USER")
	case apperror.KindGlobalLimit:
		return fiber.NewError(fiber.StatusServiceUnavailable, "SERVER_MAX_CAPACITY")
	default:
		return fiber.NewError(apperror.HTTPStatus(ae.Kind), ae.Message)
	}
}

func (h *Handler) terminate(c *fiber.Ctx) error {
	user := identity.UserFromContext(c)
	id := c.Params("id")

	s, ok := h.sessions.Get(id)
	if !ok || s.UserEmail != user {
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	}

	if err := h.sessions.Terminate(id); err != nil {
		return mapSessionError(err)
	}
	h.audit.Record("session.terminate", user, map[string]any{"sessionId": id})
	return c.SendStatus(fiber.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) rename(c *fiber.Ctx) error {
	user := identity.UserFromContext(c)
	id := c.Params("id")

	s, ok := h.sessions.Get(id)
	if !ok || s.UserEmail != user {
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	}

	var req renameRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	s.SetName(req.Name)
	return c.JSON(toTab(s))
}
