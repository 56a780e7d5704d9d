package termws

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/logpose/terminal-gateway/internal/config"
	"github.com/logpose/terminal-gateway/internal/recovery"
	"github.com/logpose/terminal-gateway/internal/taskrun"
)

type taskFrame struct {
	Type   string `json:"type"`
	Data   string `json:"data,omitempty"`
	State  string `json:"state,omitempty"`
	RunID  string `json:"runId,omitempty"`
	Reason string `json:"message,omitempty"`
}

// TaskHandler serves the read-only task-output WS surface (spec §6.4).
type TaskHandler struct {
	cfg   *config.Config
	tasks *taskrun.Registry
}

func NewTaskHandler(cfg *config.Config, tasks *taskrun.Registry) *TaskHandler {
	return &TaskHandler{cfg: cfg, tasks: tasks}
}

func (h *TaskHandler) RegisterRoutes(router fiber.Router) {
	router.Use("/ws/tasks", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals("runId", c.Query("runId"))
		return c.Next()
	})
	router.Get("/ws/tasks", websocket.New(h.handle))
}

func (h *TaskHandler) handle(conn *websocket.Conn) {
	runID, _ := conn.Locals("runId").(string)

	if !h.cfg.TasksEnabled || runID == "" {
		closeWith(conn, closeBadRequest, "missing runId")
		return
	}

	run, ok := h.tasks.Get(runID)
	if !ok {
		closeWith(conn, closeNotFound, "unknown runId")
		return
	}

	subID := uuid.NewString()
	snapshot, status, ch := run.Subscribe(subID)
	defer run.Unsubscribe(subID)

	sendTaskFrame(conn, taskFrame{Type: "status", State: string(status), RunID: runID})
	if len(snapshot) > 0 {
		sendTaskFrame(conn, taskFrame{Type: "output", Data: string(snapshot)})
	}

	done := make(chan struct{})
	recovery.SafeGoWithCleanup(
		"termws-tasks-reader:"+subID,
		func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		},
		func() { close(done) },
	)

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			sendTaskFrame(conn, taskFrame{Type: "output", Data: string(chunk)})
		case <-done:
			return
		case <-time.After(30 * time.Second):
			sendTaskFrame(conn, taskFrame{Type: "pong"})
		}
	}
}

func sendTaskFrame(conn *websocket.Conn, f taskFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
