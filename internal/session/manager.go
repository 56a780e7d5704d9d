// Package session implements the Session Manager (spec §4.4): PTY
// spawn/attach/detach/reap, the replay ring, and capacity enforcement. It is
// the sole owner of sessions and their PTYs; the WS endpoint (termws) is a
// client of this package, never touching a PTY directly.
package session

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/config"
	"github.com/logpose/terminal-gateway/internal/logger"
	"github.com/logpose/terminal-gateway/internal/recovery"
	"github.com/logpose/terminal-gateway/internal/reporegistry"
	"github.com/logpose/terminal-gateway/internal/worktree"
)

const reapSweepInterval = time.Minute

// CreateOptions configures a new session (spec §4.4 create()).
type CreateOptions struct {
	UserEmail string
	RepoID    string
	Branch    string // "" means use the repo root directly
	NewBranch bool   // true routes to ensureWorktreeFromNewBranch
	Name      string
	Cols      uint16
	Rows      uint16
}

// Manager owns the process-wide session registry. One instance per process
// (spec §9: "Session Manager ... single-instance service").
type Manager struct {
	cfg       *config.Config
	registry  *reporegistry.Registry
	worktrees *worktree.Manager

	mu       sync.Mutex
	sessions map[string]*Session
	nameSeq  map[string]int // per-user counter backing "Session N" default names

	stopSweep chan struct{}
}

func NewManager(cfg *config.Config, registry *reporegistry.Registry, worktrees *worktree.Manager) *Manager {
	m := &Manager{
		cfg:       cfg,
		registry:  registry,
		worktrees: worktrees,
		sessions:  make(map[string]*Session),
		nameSeq:   make(map[string]int),
		stopSweep: make(chan struct{}),
	}
	recovery.SafeGo("session-reap-sweeper", m.sweepLoop)
	return m
}

// Stop halts the reap sweeper. Sessions and their PTYs are left as-is; the
// caller is expected to be shutting the whole process down.
func (m *Manager) Stop() { close(m.stopSweep) }

// Get returns a session by id, or ok=false.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// ListForUser returns every session belonging to userEmail, optionally
// filtered to a single repoID (repoID == "" means all repos).
func (m *Manager) ListForUser(userEmail, repoID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.UserEmail != userEmail {
			continue
		}
		if repoID != "" && s.RepoID != repoID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (m *Manager) countLocked(userEmail string) (perUser, total int) {
	for _, s := range m.sessions {
		total++
		if s.UserEmail == userEmail {
			perUser++
		}
	}
	return
}

// Create spawns a new session's PTY per spec §4.4. Capacity is checked
// before any worktree or PTY work is attempted.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	repo, err := m.registry.Resolve(opts.RepoID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	perUser, total := m.countLocked(opts.UserEmail)
	if perUser >= m.cfg.MaxSessionsPerUser {
		m.mu.Unlock()
		return nil, apperror.New(apperror.KindPerUserLimit, "per-user session limit reached")
	}
	if total >= m.cfg.MaxTotalSessions {
		m.mu.Unlock()
		return nil, apperror.New(apperror.KindGlobalLimit, "server is at maximum session capacity")
	}
	m.mu.Unlock()

	workDir := repo.Path
	if opts.Branch != "" {
		var wtPath string
		var err error
		if opts.NewBranch {
			wtPath, err = m.worktrees.EnsureWorktreeFromNewBranch(repo.Path, opts.UserEmail, opts.Branch)
		} else {
			wtPath, err = m.worktrees.EnsureWorktreeFromExisting(repo.Path, opts.UserEmail, opts.Branch)
		}
		if err != nil {
			return nil, err
		}
		workDir = wtPath
	}

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 30
	}

	name := opts.Name
	autoName := name == ""
	sessID := uuid.NewString()
	s := newSession(sessID, opts.UserEmail, opts.RepoID, opts.Branch, workDir, name, autoName, cols, rows)

	m.mu.Lock()
	if perUser, total := m.countLocked(opts.UserEmail); perUser >= m.cfg.MaxSessionsPerUser {
		m.mu.Unlock()
		return nil, apperror.New(apperror.KindPerUserLimit, "per-user session limit reached")
	} else if total >= m.cfg.MaxTotalSessions {
		m.mu.Unlock()
		return nil, apperror.New(apperror.KindGlobalLimit, "server is at maximum session capacity")
	}
	if autoName {
		// direct field write, not SetName: the session isn't registered or
		// reachable by any other goroutine yet, and SetName would turn
		// autoName back off, defeating OSC-title extraction below.
		m.nameSeq[opts.UserEmail]++
		s.name = fmt.Sprintf("Session %d", m.nameSeq[opts.UserEmail])
	}
	m.sessions[sessID] = s
	m.mu.Unlock()

	if err := m.spawn(s); err != nil {
		s.setState(StateExited)
		m.mu.Lock()
		delete(m.sessions, sessID)
		m.mu.Unlock()
		return nil, apperror.Wrap(apperror.KindTransient, "failed to spawn session", err)
	}

	return s, nil
}

// spawn starts the PTY child. The assistant binary is launched via `sh -c`
// (not a login shell) that immediately exec's it, so the shell never
// outlives the assistant and is never reachable as a fallback shell.
func (m *Manager) spawn(s *Session) error {
	cmd := exec.Command("sh", "-c", "exec "+m.cfg.ClaudePath)
	cmd.Dir = s.WorktreePath

	cmd.Env = []string{
		"HOME=" + os.Getenv("HOME"),
		"TERM=xterm-256color",
		"LANG=en_US.UTF-8",
		"PATH=" + os.Getenv("PATH"),
	}

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: s.cols, Rows: s.rows})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pty = f
	s.cmd = cmd
	s.mu.Unlock()

	// Open question (spec §9) resolved: readiness is defined as "PTY spawn
	// returned" rather than waiting for the first output byte.
	s.setState(StateRunning)

	recovery.SafeGoWithCleanup(
		"session-pty-reader:"+s.ID,
		func() { m.readLoop(s) },
		func() { m.onExit(s) },
	)
	return nil
}

// readLoop drains the PTY and fans out each chunk to every attached client,
// appending to the replay ring first so a concurrently attaching client's
// snapshot always includes everything already delivered (spec §5 ordering
// guarantees).
func (m *Manager) readLoop(s *Session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.ring.Append(chunk)
			if title, ok := extractTitle(chunk); ok {
				s.setAutoName(title)
			}

			s.mu.Lock()
			s.lastActive = time.Now()
			s.mu.Unlock()

			frame := Frame{Type: "output", Data: string(chunk)}
			for _, c := range s.clientsSnapshot() {
				if !c.Send(frame) {
					m.detachLocked(s, c.ID)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) onExit(s *Session) {
	exitCode := 0
	if s.cmd != nil && s.cmd.ProcessState != nil {
		exitCode = s.cmd.ProcessState.ExitCode()
	}
	s.mu.Lock()
	s.state = StateExited
	s.exitCode = exitCode
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	frame := Frame{Type: "status", State: string(StateExited), SessionID: s.ID, Message: "process exited"}
	for _, c := range clients {
		c.Send(frame)
	}

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// Attach adds client to a session, creating one first if sessionID is "".
// Returns the session and the replay snapshot to send.
func (m *Manager) Attach(opts CreateOptions, sessionID string, client *Client) (*Session, []byte, error) {
	var s *Session
	if sessionID == "" {
		created, err := m.Create(opts)
		if err != nil {
			return nil, nil, err
		}
		s = created
	} else {
		found, ok := m.Get(sessionID)
		if !ok {
			return nil, nil, apperror.New(apperror.KindNotFound, "unknown session")
		}
		if found.UserEmail != opts.UserEmail || found.RepoID != opts.RepoID {
			return nil, nil, apperror.New(apperror.KindNotFound, "unknown session")
		}
		s = found
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.disconnAt = time.Time{}
	s.reapGen++
	if opts.Cols > 0 && opts.Rows > 0 {
		s.cols, s.rows = opts.Cols, opts.Rows
	}
	s.mu.Unlock()

	if opts.Cols > 0 && opts.Rows > 0 {
		_ = s.Resize(opts.Cols, opts.Rows)
	}

	snapshot := s.ring.Snapshot()
	return s, snapshot, nil
}

// Detach removes client from session's client set; if that empties it, a
// one-shot reap timer is armed for DISCONNECTED_TTL. Idempotent: detaching
// an already-detached client is a no-op.
func (m *Manager) Detach(sessionID, clientID string) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}
	m.detachLocked(s, clientID)
}

func (m *Manager) detachLocked(s *Session, clientID string) {
	s.mu.Lock()
	if _, ok := s.clients[clientID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, clientID)
	empty := len(s.clients) == 0
	var gen int
	if empty {
		s.disconnAt = time.Now()
		s.reapGen++
		gen = s.reapGen
	}
	s.mu.Unlock()

	if empty {
		ttl := time.Duration(m.cfg.DisconnectedTTLMinutes) * time.Minute
		time.AfterFunc(ttl, func() { m.reapIfStale(s, gen) })
	}
}

// reapIfStale terminates s if it is still disconnected and gen still
// matches the generation recorded when the timer was armed; a re-attach
// bumps reapGen, making a stale timer's fire a no-op (spec §5 cancellation).
func (m *Manager) reapIfStale(s *Session, gen int) {
	s.mu.Lock()
	stillEmpty := len(s.clients) == 0 && s.reapGen == gen
	s.mu.Unlock()
	if stillEmpty {
		m.Terminate(s.ID)
	}
}

// sweepLoop is the background low-frequency sweeper (spec §4.4 "Reaping"):
// independently of the per-session timers, it re-checks disconnectedAt age
// every minute and terminates any session past the TTL.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(reapSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	ttl := time.Duration(m.cfg.DisconnectedTTLMinutes) * time.Minute
	var stale []string

	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		if len(s.clients) == 0 && !s.disconnAt.IsZero() && time.Since(s.disconnAt) > ttl {
			stale = append(stale, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Terminate(id)
	}
}

// Input writes bytes to the session's PTY. Fails if not running.
func (m *Manager) Input(sessionID string, data []byte) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return apperror.New(apperror.KindNotFound, "unknown session")
	}
	return s.Write(data)
}

// Resize propagates new dimensions to the session's PTY.
func (m *Manager) Resize(sessionID string, cols, rows uint16) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return apperror.New(apperror.KindNotFound, "unknown session")
	}
	return s.Resize(cols, rows)
}

// Restart kills the existing PTY, clears the replay ring, and respawns in
// the same working directory at the previously recorded size. The client
// set is preserved.
func (m *Manager) Restart(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return apperror.New(apperror.KindNotFound, "unknown session")
	}

	s.mu.Lock()
	oldPTY := s.pty
	oldCmd := s.cmd
	s.mu.Unlock()

	if oldPTY != nil {
		_ = oldPTY.Close()
	}
	if oldCmd != nil && oldCmd.Process != nil {
		_ = oldCmd.Process.Kill()
		_, _ = oldCmd.Process.Wait()
	}

	s.ring.Reset()
	s.setState(StateStarting)
	for _, c := range s.clientsSnapshot() {
		c.Send(Frame{Type: "status", State: string(StateStarting), SessionID: s.ID})
	}

	if err := m.spawn(s); err != nil {
		s.setState(StateExited)
		return apperror.Wrap(apperror.KindTransient, "failed to restart session", err)
	}
	for _, c := range s.clientsSnapshot() {
		c.Send(Frame{Type: "status", State: string(StateRunning), SessionID: s.ID})
	}
	return nil
}

// Terminate kills the PTY, broadcasts a final exited status, and removes
// the session from the registry. The worktree is left on disk: it may
// hold uncommitted changes, and a user reconnecting to the same branch
// should see them again via EnsureWorktreeFromExisting's idempotent
// lookup. Worktree removal is a separate, explicit operation.
func (m *Manager) Terminate(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return apperror.New(apperror.KindNotFound, "unknown session")
	}

	s.mu.Lock()
	p := s.pty
	cmd := s.cmd
	s.state = StateExited
	s.mu.Unlock()

	if p != nil {
		_ = p.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	for _, c := range s.clientsSnapshot() {
		c.Send(Frame{Type: "status", State: string(StateExited), SessionID: s.ID, Message: "terminated"})
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	sessionLogger := logger.WithField("sessionId", sessionID)
	sessionLogger.Info().Msg("session terminated")
	return nil
}

// NewClient allocates a Client with a fresh id for the WS endpoint.
func NewClient() *Client {
	return newClient(uuid.NewString())
}

var oscTitlePattern = regexp.MustCompile(`\x1b\]0;([^\x07]*)\x07`)
var titleCharPattern = regexp.MustCompile(`[^a-zA-Z0-9 ._/:\-]`)

// extractTitle looks for an OSC 0 "set window title" escape sequence in a
// PTY output chunk and returns a sanitized version of the title, if found.
func extractTitle(chunk []byte) (string, bool) {
	m := oscTitlePattern.FindSubmatch(chunk)
	if m == nil {
		return "", false
	}
	title := titleCharPattern.ReplaceAllString(string(m[1]), "")
	if len(title) > 100 {
		title = title[:100]
	}
	if title == "" {
		return "", false
	}
	return title, true
}
