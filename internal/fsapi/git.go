package fsapi

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	gogit "github.com/go-git/go-git/v5"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/gitutil"
	"github.com/logpose/terminal-gateway/internal/models"
)

// gitOpTimeout bounds the shelled-out diff and log subcommands the same way
// the search subprocess is bounded, so a pathological repo (huge history, a
// diff against a giant file) can't pin a worker goroutine indefinitely. The
// branch-listing, default-branch and commit-count calls run without it.
const gitOpTimeout = 30 * time.Second

// openRepo opens root as a go-git repository, refusing with BadRequest
// (spec §6.3: "refuse non-git repos") if it is not one.
func openRepo(root string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(root)
	if err != nil {
		return nil, apperror.New(apperror.KindUnsafePath, "not a git repository")
	}
	return repo, nil
}

func (h *Handler) handleGitStatus(c *fiber.Ctx) error {
	root, err := h.resolveRoot(c)
	if err != nil {
		return writeError(c, err)
	}

	repo, err := openRepo(root)
	if err != nil {
		return writeError(c, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to open worktree", err))
	}
	st, err := wt.Status()
	if err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to read status", err))
	}

	head, err := repo.Head()
	branch := ""
	if err == nil {
		branch = strings.TrimPrefix(head.Name().String(), "refs/heads/")
	}

	resp := models.GitStatusResponse{Branch: branch}
	resp.DefaultBranch = h.branches.GetDefaultBranch(root)
	if branch != "" && branch != resp.DefaultBranch {
		if ahead, err := h.branches.GetCommitCount(root, resp.DefaultBranch, branch); err == nil {
			resp.AheadCount = ahead
		}
		if behind, err := h.branches.GetCommitCount(root, branch, resp.DefaultBranch); err == nil {
			resp.BehindCount = behind
		}
	}
	for path, fileStatus := range st {
		switch {
		case fileStatus.Worktree == gogit.Untracked:
			resp.UntrackedFiles = append(resp.UntrackedFiles, path)
		case fileStatus.Worktree != gogit.Unmodified:
			resp.UnstagedFiles = append(resp.UnstagedFiles, path)
			resp.IsDirty = true
		}
		if fileStatus.Staging != gogit.Unmodified && fileStatus.Staging != gogit.Untracked {
			resp.StagedFiles = append(resp.StagedFiles, path)
			resp.IsDirty = true
		}
		if fileStatus.Worktree == gogit.UpdatedButUnmerged {
			resp.HasConflicts = true
		}
	}

	return c.JSON(resp)
}

func (h *Handler) handleGitDiff(c *fiber.Ctx) error {
	root, err := h.resolveRoot(c)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := openRepo(root); err != nil {
		return writeError(c, err)
	}

	args := []string{"diff"}
	if path := c.Query("path"); path != "" {
		args = append(args, "--", path)
	}
	out, err := h.exec.RunWithTimeout(context.Background(), root, gitOpTimeout, args...)
	if err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to compute diff", err))
	}
	return c.SendString(string(out))
}

func (h *Handler) handleGitLog(c *fiber.Ctx) error {
	root, err := h.resolveRoot(c)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := openRepo(root); err != nil {
		return writeError(c, err)
	}

	limit := c.Query("limit", "50")
	out, err := h.exec.RunWithTimeout(context.Background(), root, gitOpTimeout, "log", "-n", limit, "--pretty=format:%H%x1f%an%x1f%ad%x1f%s%x1e", "--date=iso-strict")
	if err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to read log", err))
	}

	var entries []models.GitLogEntry
	for _, rec := range strings.Split(string(out), "\x1e") {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, "\x1f")
		if len(fields) != 4 {
			continue
		}
		entries = append(entries, models.GitLogEntry{
			Hash: fields[0], Author: fields[1], Date: fields[2], Message: fields[3],
		})
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (h *Handler) handleGitBranches(c *fiber.Ctx) error {
	root, err := h.resolveRoot(c)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := openRepo(root); err != nil {
		return writeError(c, err)
	}

	branches, err := h.branches.ListLocalBranches(root)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"branches": branches, "default": h.branches.GetDefaultBranch(root)})
}

func (h *Handler) handleGitCheckout(c *fiber.Ctx) error {
	var req models.GitCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "invalid request body"))
	}
	if err := gitutil.ValidateBranchName(req.Branch); err != nil {
		return writeError(c, err)
	}

	repo, err := h.registry.Resolve(req.RepoID)
	if err != nil {
		return writeError(c, err)
	}

	user := currentUser(c)
	var worktreePath string
	if req.Create {
		worktreePath, err = h.worktrees.EnsureWorktreeFromNewBranch(repo.Path, user, req.Branch)
	} else {
		worktreePath, err = h.worktrees.EnsureWorktreeFromExisting(repo.Path, user, req.Branch)
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(models.GitCheckoutResponse{WorktreePath: worktreePath, Branch: req.Branch})
}
