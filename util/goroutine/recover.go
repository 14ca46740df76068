package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// Recover recovers from panics in goroutines and logs them.
// Must be deferred directly. If logger is nil the panic goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, logger, r)
	}
}

// Safely runs fn and reports whether it panicked. The panic is logged and
// swallowed, so callers can turn it into a fail-closed result.
func Safely(name string, logger *zap.SugaredLogger, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logPanic(name, logger, r)
		}
	}()
	fn()
	return false
}

// Go starts fn in a new goroutine guarded by Recover.
func Go(name string, logger *zap.SugaredLogger, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}

func logPanic(name string, logger *zap.SugaredLogger, r interface{}) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
