package fsapi

import (
	"os"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/pathsafe"
)

type treeEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type treeResponse struct {
	Path    string      `json:"path"`
	Entries []treeEntry `json:"entries"`
}

func (h *Handler) handleTree(c *fiber.Ctx) error {
	root, err := h.resolveRoot(c)
	if err != nil {
		return writeError(c, err)
	}

	rel := c.Query("path", "")
	var dirPath string
	if rel == "" {
		dirPath = root
	} else {
		dirPath, err = pathsafe.ResolveFilePath(root, rel)
		if err != nil {
			return writeError(c, err)
		}
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return writeError(c, apperror.New(apperror.KindNotFound, "directory not found"))
	}

	var dirs, files []treeEntry
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			if _, elided := elidedDirs[name]; elided {
				continue
			}
			dirs = append(dirs, treeEntry{Name: name, Type: "dir"})
		} else {
			files = append(files, treeEntry{Name: name, Type: "file"})
		}
	}

	sort.Slice(dirs, func(i, j int) bool { return strings.ToLower(dirs[i].Name) < strings.ToLower(dirs[j].Name) })
	sort.Slice(files, func(i, j int) bool { return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name) })

	out := append(dirs, files...)

	return c.JSON(treeResponse{Path: rel, Entries: out})
}
