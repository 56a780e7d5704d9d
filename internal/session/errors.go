package session

import "github.com/logpose/terminal-gateway/internal/apperror"

var errNotRunning = apperror.New(apperror.KindNotFound, "session is not running")
