// Package pathsafe implements the path-containment invariants every
// file/search/git operation is gated on (spec §4.1). No file API in this
// repository ever takes an absolute path straight from a client; everything
// flows through a (root, relative path) pair resolved here.
package pathsafe

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/logpose/terminal-gateway/internal/apperror"
)

// binary extensions refused for textual reads (non-exhaustive denylist).
var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {},
	".webp": {}, ".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {},
	".xz": {}, ".7z": {}, ".rar": {}, ".exe": {}, ".dll": {}, ".so": {},
	".dylib": {}, ".bin": {}, ".class": {}, ".o": {}, ".a": {}, ".wasm": {},
	".mp3": {}, ".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".wav": {},
	".ttf": {}, ".woff": {}, ".woff2": {}, ".sqlite": {}, ".db": {},
}

// ValidateRelativePath rejects anything that isn't a clean, relative,
// non-escaping path: empty, absolute, separator-led, or containing a ".."
// segment, either as written or after normalization.
func ValidateRelativePath(p string) error {
	if p == "" {
		return apperror.New(apperror.KindUnsafePath, "path must not be empty")
	}
	if filepath.IsAbs(p) {
		return apperror.New(apperror.KindUnsafePath, "path must not be absolute")
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, string(filepath.Separator)) {
		return apperror.New(apperror.KindUnsafePath, "path must not start with a separator")
	}

	cleaned := filepath.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return apperror.New(apperror.KindUnsafePath, "path escapes its root")
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return apperror.New(apperror.KindUnsafePath, "path escapes its root")
		}
	}
	return nil
}

// ResolveRepoPath resolves <root>/<sub> to a real path and verifies it
// remains under root's real path after symlink resolution.
func ResolveRepoPath(root, sub string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", apperror.Wrap(apperror.KindNotFound, "repository root not found", err)
	}

	joined := filepath.Join(realRoot, sub)
	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// sub-path may not exist yet; fall back to the clean join for
		// existence checks the caller will perform itself.
		real = filepath.Clean(joined)
	}

	if !isUnder(real, realRoot) {
		return "", apperror.New(apperror.KindPathEscape, "path escapes repository root")
	}
	return real, nil
}

// ResolveFilePath validates rel, joins it with repoRoot, and real-path
// resolves the result, detecting symlink escapes created after the fact. If
// the target does not yet exist, only its parent directory need exist and be
// contained; the basename is re-attached unresolved (so creating a new file
// works).
func ResolveFilePath(repoRoot, rel string) (string, error) {
	if err := ValidateRelativePath(rel); err != nil {
		return "", err
	}

	realRoot, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		return "", apperror.Wrap(apperror.KindNotFound, "repository root not found", err)
	}

	joined := filepath.Join(realRoot, rel)

	if real, err := filepath.EvalSymlinks(joined); err == nil {
		if !isUnder(real, realRoot) {
			return "", apperror.New(apperror.KindPathEscape, "symlink escapes repository root")
		}
		return real, nil
	} else if !os.IsNotExist(err) {
		return "", apperror.Wrap(apperror.KindTransient, "failed to resolve path", err)
	}

	parent := filepath.Dir(joined)
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", apperror.Wrap(apperror.KindNotFound, "parent directory not found", err)
	}
	if !isUnder(realParent, realRoot) {
		return "", apperror.New(apperror.KindPathEscape, "symlink escapes repository root")
	}

	return filepath.Join(realParent, filepath.Base(joined)), nil
}

// isUnder reports whether real is realRoot itself or a path strictly beneath
// it, comparing cleaned paths component-wise to avoid "/root-evil" matching
// prefix "/root".
func isUnder(real, realRoot string) bool {
	real = filepath.Clean(real)
	realRoot = filepath.Clean(realRoot)
	if real == realRoot {
		return true
	}
	rel, err := filepath.Rel(realRoot, real)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsBinaryByExtension reports whether name's extension is in the denylist
// used to refuse textual file reads/writes.
func IsBinaryByExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := binaryExtensions[ext]
	return ok
}
