// Package settings implements the persisted admin-maintained allowlist
// (spec §6.6): <dataDir>/settings.json, rewritten atomically by an
// admin-only API and reloaded in-memory on every change.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/logpose/terminal-gateway/internal/apperror"
)

// Document is the on-disk shape of settings.json.
type Document struct {
	AllowlistEmails []string  `json:"allowlistEmails"`
	AdminEmails     []string  `json:"adminEmails"`
	UpdatedAt       time.Time `json:"updatedAt"`
	UpdatedBy       string    `json:"updatedBy"`
}

// Store holds the live, in-memory allowlist, backed by a JSON file. It is a
// single-instance process-wide service (spec §9), constructed once and
// handed to every component that needs allowlist checks — never a global.
type Store struct {
	path string

	mu        sync.RWMutex
	allowlist map[string]struct{}
	admins    map[string]struct{}
	updatedAt time.Time
	updatedBy string
}

// New loads dataDir/settings.json if present, else seeds the store from the
// boot-time configuration defaults and writes the file.
func New(dataDir string, defaultAllowlist, defaultAdmins map[string]struct{}) (*Store, error) {
	s := &Store{path: filepath.Join(dataDir, "settings.json")}

	if doc, err := s.read(); err == nil {
		s.applyDocument(doc)
		return s, nil
	}

	s.mu.Lock()
	s.allowlist = cloneSet(defaultAllowlist)
	s.admins = cloneSet(defaultAdmins)
	s.updatedAt = time.Time{}
	s.updatedBy = "bootstrap"
	s.mu.Unlock()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperror.Wrap(apperror.KindConfigError, "failed to create data directory", err)
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) read() (Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Store) applyDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlist = toSet(doc.AllowlistEmails)
	s.admins = toSet(doc.AdminEmails)
	s.updatedAt = doc.UpdatedAt
	s.updatedBy = doc.UpdatedBy
}

// IsAllowlisted reports whether email (case-insensitive) is on the live
// allowlist.
func (s *Store) IsAllowlisted(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowlist[strings.ToLower(email)]
	return ok
}

// IsAdmin reports whether email (case-insensitive) has admin rights.
func (s *Store) IsAdmin(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[strings.ToLower(email)]
	return ok
}

// Snapshot returns the current document for display in an admin surface.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Document{
		AllowlistEmails: fromSet(s.allowlist),
		AdminEmails:     fromSet(s.admins),
		UpdatedAt:       s.updatedAt,
		UpdatedBy:       s.updatedBy,
	}
}

// Update replaces the in-memory allowlist/admin sets, then persists them
// atomically (write then rename). A persist failure is returned but leaves
// the in-memory update in place.
func (s *Store) Update(allowlistEmails, adminEmails []string, updatedBy string) error {
	s.mu.Lock()
	s.allowlist = toSet(allowlistEmails)
	s.admins = toSet(adminEmails)
	s.updatedAt = time.Now()
	s.updatedBy = updatedBy
	s.mu.Unlock()

	return s.persist()
}

func (s *Store) persist() error {
	doc := s.Snapshot()

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperror.Wrap(apperror.KindTransient, "failed to encode settings", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return apperror.Wrap(apperror.KindTransient, "failed to write settings", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperror.Wrap(apperror.KindTransient, "failed to finalize settings write", err)
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(strings.TrimSpace(it))] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func cloneSet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}
