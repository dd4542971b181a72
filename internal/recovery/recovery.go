// Package recovery provides panic containment for background goroutines.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// LogPanic recovers a panic and logs it with a stack trace. Defer it
// at the top of every goroutine the module spawns so a misbehaving
// handler cannot crash the host process.
//
//	go func() {
//	    defer recovery.LogPanic(logger, "channel.keepaliveLoop")
//	    ...
//	}()
func LogPanic(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
	}
}

// CloseOnPanic recovers a panic, logs it, and invokes closeFn. The
// channel uses it on timer goroutines where any internal failure must
// tear the session down rather than leave it half-alive.
func CloseOnPanic(logger *slog.Logger, name string, closeFn func()) {
	if r := recover(); r != nil {
		logger.Error("panic recovered, closing",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
		if closeFn != nil {
			closeFn()
		}
	}
}
