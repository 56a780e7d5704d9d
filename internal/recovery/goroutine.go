// Package recovery wraps long-lived goroutines with panic isolation so that a
// bug in one session's PTY reader or one socket's heartbeat never takes down
// the process.
package recovery

import (
	"runtime/debug"

	"github.com/logpose/terminal-gateway/internal/logger"
)

// SafeGo runs fn in a goroutine, recovering any panic and logging it under name.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithCleanup is SafeGo plus a cleanup that always runs, even on panic.
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if cleanup != nil {
				cleanup()
			}
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
