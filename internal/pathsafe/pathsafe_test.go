package pathsafe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logpose/terminal-gateway/internal/apperror"
)

func TestValidateRelativePath(t *testing.T) {
	valid := []string{"a", "a/b", "a/b/c.txt", "./a", "a/./b"}
	for _, p := range valid {
		assert.NoErrorf(t, ValidateRelativePath(p), "expected %q to be valid", p)
	}

	invalid := []string{"", "/etc/passwd", "../etc/passwd", "a/../../b", "..", "a/.."}
	for _, p := range invalid {
		err := ValidateRelativePath(p)
		require.Errorf(t, err, "expected %q to be rejected", p)
		assert.Equal(t, apperror.KindUnsafePath, apperror.KindOf(err))
	}
}

func TestResolveFilePath_Escape(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))

	_, err := ResolveFilePath(root, "../outside")
	require.Error(t, err)
	assert.Equal(t, apperror.KindUnsafePath, apperror.KindOf(err))
}

func TestResolveFilePath_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "evil")))

	_, err := ResolveFilePath(root, "evil/secret")
	require.Error(t, err)
	assert.Equal(t, apperror.KindPathEscape, apperror.KindOf(err))
}

func TestResolveFilePath_NewFile(t *testing.T) {
	root := t.TempDir()

	real, err := ResolveFilePath(root, "new-file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "new-file.txt"), real)
}

func TestIsBinaryByExtension(t *testing.T) {
	assert.True(t, IsBinaryByExtension("photo.PNG"))
	assert.True(t, IsBinaryByExtension("archive.zip"))
	assert.False(t, IsBinaryByExtension("main.go"))
	assert.False(t, IsBinaryByExtension("README"))
}
