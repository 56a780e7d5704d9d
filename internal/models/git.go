// Package models holds the small wire-shape structs returned by the
// file/search/git HTTP surface (spec §6.3) — response shapes, not the
// internal domain types owned by reporegistry/worktree/session.
package models

// GitStatusResponse is the body of GET /api/git/status.
type GitStatusResponse struct {
	Branch         string   `json:"branch"`
	DefaultBranch  string   `json:"defaultBranch"`
	AheadCount     int      `json:"aheadCount"`
	BehindCount    int      `json:"behindCount"`
	IsDirty        bool     `json:"isDirty"`
	HasConflicts   bool     `json:"hasConflicts"`
	StagedFiles    []string `json:"stagedFiles"`
	UnstagedFiles  []string `json:"unstagedFiles"`
	UntrackedFiles []string `json:"untrackedFiles"`
}

// GitLogEntry is one entry of GET /api/git/log.
type GitLogEntry struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// GitCheckoutRequest is the body of POST /api/git/checkout.
type GitCheckoutRequest struct {
	RepoID string `json:"repoId"`
	Branch string `json:"branch"`
	Create bool   `json:"create"`
}

// GitCheckoutResponse is the body of POST /api/git/checkout.
type GitCheckoutResponse struct {
	WorktreePath string `json:"worktreePath"`
	Branch       string `json:"branch"`
}
