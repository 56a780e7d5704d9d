package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/logpose/terminal-gateway/internal/identity"
	"github.com/logpose/terminal-gateway/internal/reporegistry"
	"github.com/logpose/terminal-gateway/internal/settings"
	"github.com/logpose/terminal-gateway/internal/worktree"
)

// WorktreesHandler exposes admin-only visibility into worktrees retained
// across session termination (spec §4.3's Open Question requires this
// choice be admin-visible; see DESIGN.md for the retain-across-terminate
// decision).
type WorktreesHandler struct {
	store     *settings.Store
	registry  *reporegistry.Registry
	worktrees *worktree.Manager
}

func NewWorktreesHandler(store *settings.Store, registry *reporegistry.Registry, worktrees *worktree.Manager) *WorktreesHandler {
	return &WorktreesHandler{store: store, registry: registry, worktrees: worktrees}
}

func (h *WorktreesHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/api/admin/worktrees", h.requireAdmin, h.list)
}

func (h *WorktreesHandler) requireAdmin(c *fiber.Ctx) error {
	if !h.store.IsAdmin(identity.UserFromContext(c)) {
		return fiber.NewError(fiber.StatusForbidden, "admin rights required")
	}
	return c.Next()
}

// list enumerates the retained worktrees for a repo+user pair, since
// terminating a session never removes its worktree (spec §4.3).
func (h *WorktreesHandler) list(c *fiber.Ctx) error {
	repoID := c.Query("repoId")
	user := c.Query("user")
	if repoID == "" || user == "" {
		return fiber.NewError(fiber.StatusBadRequest, "repoId and user are required")
	}

	repo, err := h.registry.Resolve(repoID)
	if err != nil {
		return mapSessionError(err)
	}

	paths, err := h.worktrees.ListForUser(repo.Path, user)
	if err != nil {
		return mapSessionError(err)
	}
	return c.JSON(fiber.Map{"worktrees": paths})
}
