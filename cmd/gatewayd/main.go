// Command gatewayd is the terminal gateway's HTTP/WebSocket server. It wires
// the core components in the order spec §9 names — Settings, then Audit,
// then Session Manager, then the HTTP server — and tears them down in
// reverse on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/logpose/terminal-gateway/internal/audit"
	"github.com/logpose/terminal-gateway/internal/config"
	"github.com/logpose/terminal-gateway/internal/fsapi"
	"github.com/logpose/terminal-gateway/internal/gitutil"
	"github.com/logpose/terminal-gateway/internal/httpapi"
	"github.com/logpose/terminal-gateway/internal/identity"
	"github.com/logpose/terminal-gateway/internal/logger"
	"github.com/logpose/terminal-gateway/internal/reporegistry"
	"github.com/logpose/terminal-gateway/internal/session"
	"github.com/logpose/terminal-gateway/internal/settings"
	"github.com/logpose/terminal-gateway/internal/taskrun"
	"github.com/logpose/terminal-gateway/internal/termws"
	"github.com/logpose/terminal-gateway/internal/worktree"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd: config error:", err)
		os.Exit(1)
	}

	isDev := !cfg.IsProduction()
	logger.Configure(logger.GetLogLevelFromEnv(isDev), isDev)

	settingsStore, err := settings.New(cfg.DataDir, cfg.AllowlistEmails, cfg.AdminEmails)
	if err != nil {
		logger.Errorf("failed to initialize settings store: %v", err)
		os.Exit(1)
	}

	auditSink, err := audit.New(filepath.Join(cfg.DataDir, "audit"))
	if err != nil {
		logger.Errorf("failed to initialize audit sink: %v", err)
		os.Exit(1)
	}
	defer auditSink.Close()

	registry := reporegistry.New(cfg.RepoRoots)
	gitExec := gitutil.NewExecutor()
	branches := gitutil.NewBranches(gitExec)
	worktrees := worktree.NewManager(branches)

	sessions := session.NewManager(cfg, registry, worktrees)
	defer sessions.Stop()

	devMode := !cfg.IsProduction() && os.Getenv("DEV_AUTH") == "1"
	gate, err := identity.New(cfg, settingsStore, devMode)
	if err != nil {
		logger.Errorf("failed to initialize identity gate: %v", err)
		os.Exit(1)
	}

	app := fiber.New(fiber.Config{
		AppName:               "logpose-terminal-gateway",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	authenticated := app.Group("", gate.RequireUser)

	httpapi.NewHandler(sessions, auditSink).RegisterRoutes(authenticated)
	httpapi.NewSettingsHandler(settingsStore).RegisterRoutes(authenticated)
	httpapi.NewWorktreesHandler(settingsStore, registry, worktrees).RegisterRoutes(authenticated)
	fsapi.NewHandler(cfg, registry, worktrees, gitExec).RegisterRoutes(authenticated)
	termws.NewHandler(sessions).RegisterRoutes(authenticated)
	termws.NewTaskHandler(cfg, taskrun.NewRegistry()).RegisterRoutes(authenticated)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Errorf("server stopped: %v", err)
		}
	}()
	logger.Infof("gatewayd listening on %s", addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
}
