package fsapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/pathsafe"
)

const searchTimeout = 30 * time.Second
const maxSearchMatches = 200

type searchRequest struct {
	RepoID string   `json:"repoId"`
	Branch string   `json:"branch,omitempty"`
	Query  string   `json:"query"`
	Paths  []string `json:"paths,omitempty"`
}

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

type searchResponse struct {
	Matches []searchMatch `json:"matches"`
}

// ripgrepMatchLine is one line of `rg --json` output we care about; other
// message types (begin/end/summary) are skipped.
type ripgrepMatchLine struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		Lines struct {
			Text string `json:"text"`
		} `json:"lines"`
		LineNumber int `json:"line_number"`
	} `json:"data"`
}

func (h *Handler) handleSearch(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil || req.Query == "" {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "invalid search request"))
	}

	repo, err := h.registry.Resolve(req.RepoID)
	if err != nil {
		return writeError(c, err)
	}
	root, err := h.resolveWorktreeRoot(repo, currentUser(c), req.Branch)
	if err != nil {
		return writeError(c, err)
	}

	for _, p := range req.Paths {
		if err := pathsafe.ValidateRelativePath(p); err != nil {
			return writeError(c, err)
		}
	}

	matches, err := runRipgrep(root, req.Query, req.Paths)
	if err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "search failed", err))
	}
	return c.JSON(searchResponse{Matches: matches})
}

// runRipgrep invokes `rg --json` with the flags named in spec §6.5: JSON
// output, per-file match cap, file-size cap, symlink-follow, smart-case,
// and exclusions for the elided-dirs list. Args are passed individually to
// exec.Command — no shell interpolation.
func runRipgrep(repoRoot, query string, paths []string) ([]searchMatch, error) {
	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	args := []string{
		"--json",
		"--max-count", "10",
		"--max-filesize", "1M",
		"--follow",
		"--smart-case",
	}
	for dir := range elidedDirs {
		args = append(args, "-g", "!"+dir)
	}
	args = append(args, "--", query)
	args = append(args, paths...)
	if len(paths) == 0 {
		args = append(args, ".")
	}

	cmd := exec.CommandContext(ctx, "rg", args...)
	cmd.Dir = repoRoot

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run() // rg exits 1 on "no matches", which is not an error to us

	var matches []searchMatch
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(matches) >= maxSearchMatches {
			break
		}
		var line ripgrepMatchLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil || line.Type != "match" {
			continue
		}
		matches = append(matches, searchMatch{
			Path: strings.TrimPrefix(line.Data.Path.Text, "./"),
			Line: line.Data.LineNumber,
			Text: strings.TrimRight(line.Data.Lines.Text, "\n"),
		})
	}
	return matches, nil
}
