package reporegistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logpose/terminal-gateway/internal/apperror"
)

func setupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "demo"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "beta"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".hidden"), 0o755))
	return root
}

func TestDiscover_SkipsHiddenAndSorts(t *testing.T) {
	root := setupRoot(t)
	r := New([]string{root})

	repos, err := r.Discover()
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "beta", repos[0].DisplayName)
	assert.Equal(t, "demo", repos[1].DisplayName)
}

func TestResolve_Success(t *testing.T) {
	root := setupRoot(t)
	rootName := filepath.Base(root)
	r := New([]string{root})

	repo, err := r.Resolve(rootName + "/demo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "demo"), repo.Path)
}

func TestResolve_NotFound(t *testing.T) {
	root := setupRoot(t)
	r := New([]string{root})

	_, err := r.Resolve(filepath.Base(root) + "/missing")
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = r.Resolve("malformed")
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}
