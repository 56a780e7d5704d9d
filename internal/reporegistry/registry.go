// Package reporegistry resolves opaque repo IDs ("<rootName>/<sub-path>")
// to real on-disk directories rooted under the configured REPO_ROOTS, and
// enumerates the repos available under those roots.
package reporegistry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/pathsafe"
)

// Repo is a discovered or resolved repository.
type Repo struct {
	ID          string // "<rootName>/<sub-path>"
	DisplayName string
	Path        string // real on-disk path
}

// Registry is stateless beyond its immutable list of configured roots.
type Registry struct {
	roots []string
}

func New(roots []string) *Registry {
	return &Registry{roots: roots}
}

// Discover enumerates immediate children of each configured root, skipping
// roots that cannot be read, non-directories, and names starting with ".";
// child directories are not checked for readability. Results are sorted by
// DisplayName ascending, case-insensitive.
func (r *Registry) Discover() ([]Repo, error) {
	var repos []Repo
	for _, root := range r.roots {
		rootName := filepath.Base(root)

		entries, err := os.ReadDir(root)
		if err != nil {
			continue // an unreadable root simply contributes no repos
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			repos = append(repos, Repo{
				ID:          rootName + "/" + e.Name(),
				DisplayName: e.Name(),
				Path:        filepath.Join(root, e.Name()),
			})
		}
	}

	sort.Slice(repos, func(i, j int) bool {
		return strings.ToLower(repos[i].DisplayName) < strings.ToLower(repos[j].DisplayName)
	})
	return repos, nil
}

// Resolve parses repoId as "<rootName>/<sub-path>", locates the unique
// configured root with matching basename, and real-path-resolves the
// result, failing with NotFound if no root matches or the repo path does
// not exist under it.
func (r *Registry) Resolve(repoID string) (Repo, error) {
	parts := strings.SplitN(repoID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, apperror.New(apperror.KindNotFound, "malformed repo id")
	}
	rootName, sub := parts[0], parts[1]

	for _, root := range r.roots {
		if filepath.Base(root) != rootName {
			continue
		}

		real, err := pathsafe.ResolveRepoPath(root, sub)
		if err != nil {
			return Repo{}, err
		}
		if _, err := os.Stat(real); err != nil {
			return Repo{}, apperror.New(apperror.KindNotFound, "repository not found")
		}

		return Repo{ID: repoID, DisplayName: filepath.Base(real), Path: real}, nil
	}
	return Repo{}, apperror.New(apperror.KindNotFound, "repository not found")
}
