// Package fsapi implements the File/Search/Git Surface (spec §4.7, §6.3):
// read/write/list/search/diff operations scoped to a resolved repo or
// worktree root, gated throughout on pathsafe's containment invariants.
package fsapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/config"
	"github.com/logpose/terminal-gateway/internal/gitutil"
	"github.com/logpose/terminal-gateway/internal/identity"
	"github.com/logpose/terminal-gateway/internal/logger"
	"github.com/logpose/terminal-gateway/internal/reporegistry"
	"github.com/logpose/terminal-gateway/internal/worktree"
)

// elidedDirs are never listed by the tree endpoint and are excluded from
// search, matching the "known heavy dirs" rule in spec §6.3.
var elidedDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "vendor": {}, "dist": {}, "build": {},
	"target": {}, ".worktrees": {}, ".venv": {}, "__pycache__": {},
}

// Handler groups the file/search/git HTTP routes.
type Handler struct {
	cfg       *config.Config
	registry  *reporegistry.Registry
	worktrees *worktree.Manager
	branches  *gitutil.Branches
	exec      gitutil.Executor
}

func NewHandler(cfg *config.Config, registry *reporegistry.Registry, worktrees *worktree.Manager, exec gitutil.Executor) *Handler {
	return &Handler{
		cfg:       cfg,
		registry:  registry,
		worktrees: worktrees,
		branches:  gitutil.NewBranches(exec),
		exec:      exec,
	}
}

// RegisterRoutes mounts the surface under router, which is expected to
// already be behind the identity gate.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Get("/api/tree", h.handleTree)
	router.Get("/api/file", h.handleFileGet)
	router.Put("/api/file", h.handleFilePut)
	router.Delete("/api/file", h.handleFileDelete)
	router.Post("/api/search", h.handleSearch)
	router.Get("/api/git/status", h.handleGitStatus)
	router.Get("/api/git/diff", h.handleGitDiff)
	router.Get("/api/git/log", h.handleGitLog)
	router.Get("/api/git/branches", h.handleGitBranches)
	router.Post("/api/git/checkout", h.handleGitCheckout)
}

// resolveRoot resolves repoId to its real on-disk root, or, when branch is
// given, to that user's worktree for branch (spec §4.7: "for worktree-scoped
// sessions, the caller substitutes the worktree path for the repo root; G's
// contract is identical"). It never creates a new base branch — only the
// explicit checkout endpoint does that — so a worktree-scoped caller must
// name a base branch that already exists. On first use it does create the
// user's worktree and namespaced branch from that base branch.
func (h *Handler) resolveRoot(c *fiber.Ctx) (string, error) {
	repoID := c.Query("repoId")
	if repoID == "" {
		return "", apperror.New(apperror.KindNotFound, "missing repoId")
	}
	repo, err := h.registry.Resolve(repoID)
	if err != nil {
		return "", err
	}
	return h.resolveWorktreeRoot(repo, currentUser(c), c.Query("branch"))
}

// resolveWorktreeRoot substitutes repo.Path for the user's worktree path
// when branch is non-empty, the same rule resolveRoot applies for
// query-parameter callers.
func (h *Handler) resolveWorktreeRoot(repo reporegistry.Repo, user, branch string) (string, error) {
	if branch == "" {
		return repo.Path, nil
	}
	return h.worktrees.EnsureWorktreeFromExisting(repo.Path, user, branch)
}

func currentUser(c *fiber.Ctx) string {
	return identity.UserFromContext(c)
}

// writeError renders err using its apperror Kind's HTTP status, logging the
// cause but never returning it to the caller (spec §7 propagation policy).
func writeError(c *fiber.Ctx, err error) error {
	logger.Warnf("fsapi: %s %s: %v", c.Method(), c.Path(), err)
	ae, ok := apperror.As(err)
	if !ok {
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
	return fiber.NewError(apperror.HTTPStatus(ae.Kind), ae.Message)
}
