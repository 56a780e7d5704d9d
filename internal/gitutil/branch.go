package gitutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/logpose/terminal-gateway/internal/apperror"
)

var commitHashPattern = regexp.MustCompile(`^[a-f0-9]{7,40}$`)

// ValidateBranchName enforces the acceptance rules a user-supplied branch
// name must satisfy before it is ever passed to git or used to build a
// filesystem path.
func ValidateBranchName(name string) error {
	if name == "" {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not be empty")
	}
	if name == "@" {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not be exactly \"@\"")
	}
	if strings.Contains(name, "..") {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not contain \"..\"")
	}
	if strings.Contains(name, "\\") {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not contain a backslash")
	}
	if strings.ContainsAny(name, "~^:*[]") {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not contain ~^:*[]")
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not contain whitespace")
	}
	if strings.HasPrefix(name, "-") {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not start with \"-\"")
	}
	if strings.Contains(name, "@{") {
		return apperror.New(apperror.KindInvalidBranchName, "branch name must not contain \"@{\"")
	}

	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return apperror.New(apperror.KindInvalidBranchName, "branch name must not contain empty path segments")
		}
		if strings.HasPrefix(seg, ".") || strings.HasSuffix(seg, ".") {
			return apperror.New(apperror.KindInvalidBranchName, "branch name segments must not start or end with \".\"")
		}
	}
	return nil
}

// ValidateCommitHash checks a candidate commit-ish against the allowlisted
// hex-digest shape (spec §6.5); it does not verify the commit exists.
func ValidateCommitHash(hash string) error {
	if !commitHashPattern.MatchString(hash) {
		return apperror.New(apperror.KindUnsafePath, "invalid commit hash")
	}
	return nil
}

// UserNamespacedBranch builds the logpose/<shortUserId>/<baseBranch> branch
// name a worktree's HEAD is checked out to.
func UserNamespacedBranch(shortUserID, baseBranch string) string {
	return fmt.Sprintf("logpose/%s/%s", shortUserID, baseBranch)
}

// Branches provides the branch-existence and listing operations the
// worktree manager and git HTTP surface need, backed by an Executor.
type Branches struct {
	exec Executor
}

func NewBranches(exec Executor) *Branches {
	return &Branches{exec: exec}
}

func (b *Branches) ExistsLocal(repoPath, branch string) bool {
	ref := "refs/heads/" + branch
	if strings.HasPrefix(branch, "refs/") {
		ref = branch
	}
	_, err := b.exec.Run(repoPath, "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

func (b *Branches) ExistsRemote(repoPath, branch, remoteName string) bool {
	if remoteName == "" {
		remoteName = "origin"
	}
	ref := fmt.Sprintf("refs/remotes/%s/%s", remoteName, branch)
	_, err := b.exec.Run(repoPath, "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

// GetCommitCount counts commits reachable from toRef but not fromRef.
func (b *Branches) GetCommitCount(repoPath, fromRef, toRef string) (int, error) {
	out, err := b.exec.Run(repoPath, "rev-list", "--count", fmt.Sprintf("%s..%s", fromRef, toRef))
	if err != nil {
		return 0, apperror.Wrap(apperror.KindTransient, "failed to count commits", err)
	}
	return strconv.Atoi(strings.TrimSpace(string(out)))
}

// GetDefaultBranch resolves the repository's default branch, falling back to
// "main" when neither a symbolic ref nor a well-known remote branch exists.
func (b *Branches) GetDefaultBranch(repoPath string) string {
	out, err := b.exec.Run(repoPath, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		return strings.TrimSpace(strings.TrimPrefix(string(out), "refs/remotes/origin/"))
	}

	out, err = b.exec.Run(repoPath, "branch", "-r")
	if err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if strings.Contains(line, "origin/main") {
				return "main"
			}
			if strings.Contains(line, "origin/master") {
				return "master"
			}
		}
	}
	return "main"
}

// ListLocalBranches returns the repository's local branch names.
func (b *Branches) ListLocalBranches(repoPath string) ([]string, error) {
	out, err := b.exec.Run(repoPath, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, apperror.Wrap(apperror.KindTransient, "failed to list branches", err)
	}

	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// CreateWorktree runs `git worktree add`, creating branch from startPoint
// when startPoint is non-empty, or checking out the existing branch
// otherwise.
func (b *Branches) CreateWorktree(repoPath, worktreePath, branch, startPoint string) error {
	args := []string{"worktree", "add"}
	if startPoint != "" {
		args = append(args, "-b", branch, worktreePath, startPoint)
	} else {
		args = append(args, worktreePath, branch)
	}
	_, err := b.exec.Run(repoPath, args...)
	if err != nil {
		return apperror.Wrap(apperror.KindTransient, "failed to create worktree", err)
	}
	return nil
}

// RemoveWorktree runs `git worktree remove --force`.
func (b *Branches) RemoveWorktree(repoPath, worktreePath string) error {
	_, err := b.exec.Run(repoPath, "worktree", "remove", "--force", worktreePath)
	if err != nil {
		return apperror.Wrap(apperror.KindTransient, "failed to remove worktree", err)
	}
	return nil
}
