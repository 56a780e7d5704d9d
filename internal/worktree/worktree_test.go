package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/gitutil"
)

// testExecutor simulates git plumbing without a real repository, so
// worktree logic can be tested without shelling out to the git binary.
type testExecutor struct {
	localBranches    map[string]bool
	worktreeAddCalls int
}

var errRefNotFound = errNotFound("ref not found")

type errNotFound string

func (e errNotFound) Error() string { return string(e) }

func (f *testExecutor) Run(dir string, args ...string) ([]byte, error) {
	switch {
	case len(args) >= 3 && args[0] == "show-ref":
		ref := args[len(args)-1]
		branch := strings.TrimPrefix(ref, "refs/heads/")
		if f.localBranches[branch] {
			return nil, nil
		}
		return nil, errRefNotFound
	case len(args) >= 2 && args[0] == "worktree" && args[1] == "add":
		f.worktreeAddCalls++
		var dirArg, branch string
		if args[2] == "-b" {
			branch, dirArg = args[3], args[4]
		} else {
			dirArg, branch = args[2], args[3]
		}
		if err := os.MkdirAll(dirArg, 0o755); err != nil {
			return nil, err
		}
		f.localBranches[branch] = true
		return nil, nil
	case len(args) >= 2 && args[0] == "worktree" && args[1] == "remove":
		return nil, nil
	}
	return nil, nil
}

func (f *testExecutor) RunWithTimeout(_ context.Context, dir string, _ time.Duration, args ...string) ([]byte, error) {
	return f.Run(dir, args...)
}

func TestEnsureWorktreeFromExisting_IdempotentAndGrounded(t *testing.T) {
	repoRoot := t.TempDir()
	exec := &testExecutor{localBranches: map[string]bool{"main": true}}
	m := NewManager(gitutil.NewBranches(exec))

	path1, err := m.EnsureWorktreeFromExisting(repoRoot, "user@example.com", "main")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path1, filepath.Join(repoRoot, ".worktrees", "user")))

	path2, err := m.EnsureWorktreeFromExisting(repoRoot, "user@example.com", "main")
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, exec.worktreeAddCalls, "second call must not re-invoke git worktree add")
}

func TestEnsureWorktreeFromExisting_BranchMissing(t *testing.T) {
	repoRoot := t.TempDir()
	exec := &testExecutor{localBranches: map[string]bool{}}
	m := NewManager(gitutil.NewBranches(exec))

	_, err := m.EnsureWorktreeFromExisting(repoRoot, "user@example.com", "nope")
	require.Error(t, err)
	assert.Equal(t, apperror.KindBranchMissing, apperror.KindOf(err))
}

func TestEnsureWorktreeFromNewBranch_BranchExists(t *testing.T) {
	repoRoot := t.TempDir()
	exec := &testExecutor{localBranches: map[string]bool{"logpose/user/feature": true}}
	m := NewManager(gitutil.NewBranches(exec))

	_, err := m.EnsureWorktreeFromNewBranch(repoRoot, "user@example.com", "feature")
	require.Error(t, err)
	assert.Equal(t, apperror.KindBranchExists, apperror.KindOf(err))
}

func TestListForUser(t *testing.T) {
	repoRoot := t.TempDir()
	exec := &testExecutor{localBranches: map[string]bool{"main": true}}
	m := NewManager(gitutil.NewBranches(exec))

	empty, err := m.ListForUser(repoRoot, "user@example.com")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = m.EnsureWorktreeFromExisting(repoRoot, "user@example.com", "main")
	require.NoError(t, err)

	paths, err := m.ListForUser(repoRoot, "user@example.com")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "main", filepath.Base(paths[0]))
}

func TestWorktreeContainment(t *testing.T) {
	repoRoot := t.TempDir()
	exec := &testExecutor{localBranches: map[string]bool{"main": true}}
	m := NewManager(gitutil.NewBranches(exec))

	path, err := m.EnsureWorktreeFromExisting(repoRoot, "user@example.com", "main")
	require.NoError(t, err)

	realRoot, err := filepath.EvalSymlinks(repoRoot)
	require.NoError(t, err)
	rel, err := filepath.Rel(realRoot, path)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."))
}
