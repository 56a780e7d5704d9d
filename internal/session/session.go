package session

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// State is a session's position in its lifecycle state machine (spec §4.4).
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

// Frame is a server→client WS message (spec §4.5); termws serializes it.
type Frame struct {
	Type        string `json:"type"`
	Data        string `json:"data,omitempty"`
	State       string `json:"state,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	SessionName string `json:"sessionName,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Client is a socket attached to a session (spec §3). It holds only an
// outbound queue; the endpoint owns the actual socket write loop.
type Client struct {
	ID   string
	send chan Frame
}

func newClient(id string) *Client {
	return &Client{ID: id, send: make(chan Frame, 256)}
}

// Send enqueues f for delivery, non-blocking: a full queue means the client
// is not keeping up and is treated as a broken send by the caller.
func (c *Client) Send(f Frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Recv exposes the outbound queue for the WS endpoint's write loop.
func (c *Client) Recv() <-chan Frame { return c.send }

// Session is a single PTY-backed terminal, attachable by many clients.
type Session struct {
	ID string

	UserEmail    string
	RepoID       string
	Branch       string
	WorktreePath string

	mu         sync.Mutex
	state      State
	name       string
	autoName   bool // true if name was generated, not given explicitly at create
	clients    map[string]*Client
	createdAt  time.Time
	lastActive time.Time
	disconnAt  time.Time
	exitCode   int
	cols, rows uint16

	ring *ring

	pty     *os.File
	cmd     *exec.Cmd
	reapGen int // bumped on re-attach so a stale reap timer is a no-op
}

func newSession(id, userEmail, repoID, branch, worktreePath, name string, autoName bool, cols, rows uint16) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		UserEmail:    userEmail,
		RepoID:       repoID,
		Branch:       branch,
		WorktreePath: worktreePath,
		state:        StateStarting,
		name:         name,
		autoName:     autoName,
		clients:      make(map[string]*Client),
		createdAt:    now,
		lastActive:   now,
		cols:         cols,
		rows:         rows,
		ring:         newRing(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// CreatedAt returns the time the session was created.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// SetName updates the session's display name via explicit rename. It also
// turns off auto-naming, since the caller has now named the session on
// purpose and OSC-title extraction should no longer override it.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.autoName = false
}

// setAutoName applies an OSC-title extracted from PTY output. It is a no-op
// once the session has an explicit name, whether given at create or set
// later via SetName.
func (s *Session) setAutoName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.autoName {
		return
	}
	s.name = name
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Resize propagates new dimensions to the PTY (spec: cols in [1,500], rows
// in [1,200] — validated by the caller before this is reached).
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	p := s.pty
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	return pty.Setsize(p, &pty.Winsize{Cols: cols, Rows: rows})
}

// Write sends bytes to the PTY's stdin. Fails if the session is not running.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	st, p := s.state, s.pty
	s.mu.Unlock()

	if st != StateRunning || p == nil {
		return errNotRunning
	}
	_, err := p.Write(data)
	return err
}

// clientsSnapshot returns a copy of the attached Client pointers, taken
// under the session lock, so broadcast never iterates the live map
// concurrently with attach/detach.
func (s *Session) clientsSnapshot() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}
