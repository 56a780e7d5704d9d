// Package worktree implements per-user git worktree isolation (spec §4.3):
// on-demand creation of a user-namespaced branch and checkout under a
// sanitized prefix, idempotent lookup, and best-effort cleanup. Concurrent
// creation requests are deduplicated via singleflight keyed by repo root plus
// user branch; creations for different branches of the same repo are not
// serialized and may run git concurrently.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/gitutil"
	"github.com/logpose/terminal-gateway/internal/identity"
	"github.com/logpose/terminal-gateway/internal/logger"
	"github.com/logpose/terminal-gateway/internal/pathsafe"
)

// Manager creates, locates, and cleans per-user isolated checkouts.
type Manager struct {
	branches *gitutil.Branches
	group    singleflight.Group
}

func NewManager(branches *gitutil.Branches) *Manager {
	return &Manager{branches: branches}
}

// dirFor computes <repoRoot>/.worktrees/<shortUserId>/<baseBranch>, checking
// it against Path Safety's containment invariant before returning it.
func dirFor(repoRoot, shortUserID, baseBranch string) (string, error) {
	sub := filepath.Join(".worktrees", shortUserID, baseBranch)
	return pathsafe.ResolveRepoPath(repoRoot, sub)
}

// EnsureWorktreeFromExisting returns the worktree path for (user, baseBranch),
// creating it from an existing base branch if it does not already exist.
func (m *Manager) EnsureWorktreeFromExisting(repoRoot, userEmail, baseBranch string) (string, error) {
	if err := gitutil.ValidateBranchName(baseBranch); err != nil {
		return "", err
	}
	shortUserID := identity.ShortUserID(userEmail)
	userBranch := gitutil.UserNamespacedBranch(shortUserID, baseBranch)

	key := repoRoot + "\x00" + userBranch
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.ensureFromExisting(repoRoot, shortUserID, baseBranch, userBranch)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) ensureFromExisting(repoRoot, shortUserID, baseBranch, userBranch string) (string, error) {
	dir, err := dirFor(repoRoot, shortUserID, baseBranch)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, nil
	}

	hasLocal := m.branches.ExistsLocal(repoRoot, baseBranch)
	hasRemote := m.branches.ExistsRemote(repoRoot, baseBranch, "origin")
	if !hasLocal && !hasRemote {
		return "", apperror.New(apperror.KindBranchMissing, fmt.Sprintf("base branch %q not found", baseBranch))
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "failed to create worktree parent directory", err)
	}

	if m.branches.ExistsLocal(repoRoot, userBranch) {
		if err := m.branches.CreateWorktree(repoRoot, dir, userBranch, ""); err != nil {
			_ = os.RemoveAll(dir)
			return "", err
		}
		return dir, nil
	}

	startPoint := baseBranch
	if !hasLocal && hasRemote {
		startPoint = "origin/" + baseBranch
	}
	if err := m.branches.CreateWorktree(repoRoot, dir, userBranch, startPoint); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// EnsureWorktreeFromNewBranch creates the user's namespaced branch from
// current HEAD, failing with BranchExists if it already exists.
func (m *Manager) EnsureWorktreeFromNewBranch(repoRoot, userEmail, newBaseBranch string) (string, error) {
	if err := gitutil.ValidateBranchName(newBaseBranch); err != nil {
		return "", err
	}
	shortUserID := identity.ShortUserID(userEmail)
	userBranch := gitutil.UserNamespacedBranch(shortUserID, newBaseBranch)

	key := repoRoot + "\x00" + userBranch
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.ensureFromNew(repoRoot, shortUserID, newBaseBranch, userBranch)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) ensureFromNew(repoRoot, shortUserID, baseBranch, userBranch string) (string, error) {
	if m.branches.ExistsLocal(repoRoot, userBranch) {
		return "", apperror.New(apperror.KindBranchExists, fmt.Sprintf("branch %q already exists", userBranch))
	}

	dir, err := dirFor(repoRoot, shortUserID, baseBranch)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "failed to create worktree parent directory", err)
	}

	if err := m.branches.CreateWorktree(repoRoot, dir, userBranch, "HEAD"); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// Cleanup removes the worktree entry from git and best-effort removes the
// directory. It never returns an error to the caller; failures are logged.
// Session termination does not call it: worktrees are retained.
func (m *Manager) Cleanup(repoRoot, worktreePath string) {
	if err := m.branches.RemoveWorktree(repoRoot, worktreePath); err != nil {
		l := logger.WithFields(map[string]interface{}{"worktreePath": worktreePath, "error": err})
		l.Warn().Msg("worktree cleanup: git worktree remove failed")
	}
	if err := os.RemoveAll(worktreePath); err != nil {
		l := logger.WithFields(map[string]interface{}{"worktreePath": worktreePath, "error": err})
		l.Warn().Msg("worktree cleanup: directory removal failed")
	}
}

// ListForUser enumerates the user's worktree directories under
// <repoRoot>/.worktrees/<shortUserId>/.
func (m *Manager) ListForUser(repoRoot, userEmail string) ([]string, error) {
	shortUserID := identity.ShortUserID(userEmail)
	base := filepath.Join(repoRoot, ".worktrees", shortUserID)

	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperror.Wrap(apperror.KindTransient, "failed to list worktrees", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(base, e.Name()))
		}
	}
	return paths, nil
}
