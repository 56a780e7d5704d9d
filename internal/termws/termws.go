// Package termws implements the Terminal WebSocket Endpoint (spec §4.5): it
// owns the socket, decodes/encodes JSON frames, and drives the Session
// Manager; the session package owns the PTY.
package termws

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/identity"
	"github.com/logpose/terminal-gateway/internal/logger"
	"github.com/logpose/terminal-gateway/internal/recovery"
	"github.com/logpose/terminal-gateway/internal/session"
)

const (
	heartbeatInterval = 30 * time.Second
	maxInputBytes     = 64 * 1024
	maxBranchLen      = 100

	closeBadRequest   = 4000
	closeUnauthorized = 4001
	closePingTimeout  = 4002
	closeNotFound     = 4004
)

// clientFrame is the decoded shape of any client→server message (spec §4.5
// table); unused fields per frame type are simply left zero.
type clientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Handler wires the Session Manager into a fiber WS route.
type Handler struct {
	sessions *session.Manager
}

func NewHandler(sessions *session.Manager) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes mounts /ws/claude on router. The caller is expected to
// have already run the identity gate ahead of this route.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Use("/ws/claude", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals("repoId", c.Query("repoId"))
		c.Locals("userEmail", identity.UserFromContext(c))
		return c.Next()
	})
	router.Get("/ws/claude", websocket.New(h.handle, websocket.Config{
		HandshakeTimeout: 10 * time.Second,
	}))
}

func (h *Handler) handle(conn *websocket.Conn) {
	repoID, _ := conn.Locals("repoId").(string)
	userEmail, _ := conn.Locals("userEmail").(string)

	if repoID == "" {
		closeWith(conn, closeBadRequest, "missing repoId")
		return
	}
	if userEmail == "" {
		closeWith(conn, closeUnauthorized, "no verified user")
		return
	}

	client := session.NewClient()
	var attachedID string

	stopWrite := make(chan struct{})
	recovery.SafeGoWithCleanup(
		"termws-writer:"+client.ID,
		func() { writeLoop(conn, client, stopWrite) },
		func() {},
	)

	alive := make(chan struct{}, 1)
	stopHeartbeat := make(chan struct{})
	recovery.SafeGo("termws-heartbeat:"+client.ID, func() {
		heartbeatLoop(conn, client, alive, stopHeartbeat)
	})

	defer func() {
		close(stopHeartbeat)
		close(stopWrite)
		if attachedID != "" {
			h.sessions.Detach(attachedID, client.ID)
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case alive <- struct{}{}:
		default:
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			client.Send(session.Frame{Type: "error", Message: "malformed frame"})
			continue
		}

		switch frame.Type {
		case "attach":
			attachedID = h.handleAttach(conn, client, userEmail, repoID, attachedID, frame)
		case "input":
			if attachedID == "" {
				client.Send(session.Frame{Type: "error", Message: "Not attached"})
				continue
			}
			if len(frame.Data) > maxInputBytes {
				client.Send(session.Frame{Type: "error", Message: "input too large"})
				continue
			}
			if err := h.sessions.Input(attachedID, []byte(frame.Data)); err != nil {
				client.Send(session.Frame{Type: "error", Message: errMessage(err)})
			}
		case "resize":
			if attachedID == "" {
				client.Send(session.Frame{Type: "error", Message: "Not attached"})
				continue
			}
			if frame.Cols < 1 || frame.Cols > 500 || frame.Rows < 1 || frame.Rows > 200 {
				client.Send(session.Frame{Type: "error", Message: "dimensions out of range"})
				continue
			}
			if err := h.sessions.Resize(attachedID, uint16(frame.Cols), uint16(frame.Rows)); err != nil {
				client.Send(session.Frame{Type: "error", Message: errMessage(err)})
			}
		case "restart":
			if attachedID == "" {
				client.Send(session.Frame{Type: "error", Message: "Not attached"})
				continue
			}
			if err := h.sessions.Restart(attachedID); err != nil {
				client.Send(session.Frame{Type: "error", Message: errMessage(err)})
			}
		case "ping":
			client.Send(session.Frame{Type: "pong"})
		default:
			client.Send(session.Frame{Type: "error", Message: "unknown frame type"})
		}
	}
}

// handleAttach may still close the socket directly on an unknown-session
// error: a close handshake is a control frame, safe to send concurrently
// with writeLoop's data frames per gorilla/websocket's concurrency rules.
// Every data frame, though, goes through client.Send so writeLoop stays the
// sole caller of conn.WriteMessage.
func (h *Handler) handleAttach(conn *websocket.Conn, client *session.Client, userEmail, repoID, currentID string, frame clientFrame) string {
	if len(frame.Branch) > maxBranchLen {
		client.Send(session.Frame{Type: "error", Message: "branch name too long"})
		return currentID
	}
	if frame.Cols != 0 && (frame.Cols < 1 || frame.Cols > 500) {
		client.Send(session.Frame{Type: "error", Message: "cols out of range"})
		return currentID
	}
	if frame.Rows != 0 && (frame.Rows < 1 || frame.Rows > 200) {
		client.Send(session.Frame{Type: "error", Message: "rows out of range"})
		return currentID
	}

	opts := session.CreateOptions{
		UserEmail: userEmail,
		RepoID:    repoID,
		Branch:    frame.Branch,
		Cols:      uint16(frame.Cols),
		Rows:      uint16(frame.Rows),
	}

	s, replay, err := h.sessions.Attach(opts, frame.SessionID, client)
	if err != nil {
		ae, _ := apperror.As(err)
		if ae != nil && ae.Kind == apperror.KindNotFound {
			closeWith(conn, closeNotFound, "unknown sessionId")
		} else {
			client.Send(session.Frame{Type: "error", Message: errMessage(err)})
		}
		return currentID
	}

	client.Send(session.Frame{
		Type:        "status",
		State:       string(s.State()),
		SessionID:   s.ID,
		SessionName: s.Name(),
		Branch:      s.Branch,
	})
	client.Send(session.Frame{Type: "replay", Data: string(replay)})
	return s.ID
}

// writeLoop drains client's outbound queue to the socket. A single writer
// per socket keeps WS writes sequential, as required by gorilla-style
// websocket connections (no concurrent WriteMessage calls). It exits when
// stop is closed; the queue itself is never closed, since a session may
// still hold a reference to this client between detach and garbage
// collection.
func writeLoop(conn *websocket.Conn, client *session.Client, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case f := <-client.Recv():
			sendFrame(conn, f)
		}
	}
}

func sendFrame(conn *websocket.Conn, f session.Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Debugf("termws: write failed: %v", err)
	}
}

// heartbeatLoop emits a pong every heartbeatInterval and closes the
// connection if two consecutive intervals pass with no client frame. The
// pong goes through client.Send like every other data frame; only the
// close handshake writes to conn directly.
func heartbeatLoop(conn *websocket.Conn, client *session.Client, alive <-chan struct{}, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-stop:
			return
		case <-alive:
			missed = 0
		case <-ticker.C:
			select {
			case <-alive:
				missed = 0
			default:
				missed++
			}
			if missed >= 2 {
				closeWith(conn, closePingTimeout, "ping timeout")
				return
			}
			client.Send(session.Frame{Type: "pong"})
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func errMessage(err error) string {
	if ae, ok := apperror.As(err); ok {
		return ae.Message
	}
	return "internal error"
}
