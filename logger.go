package rend

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/rend/internal/noplog"
)

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(noplog.Logger())
}

// SetLogger configures the logger for rend and the engines it creates.
// By default rend produces no log output. Pass nil to restore the default
// silent behavior.
//
// Log levels used by rend:
//   - [slog.LevelDebug]: per-frame diagnostics (slot waits, collections)
//   - [slog.LevelInfo]: lifecycle events (adapter selected, swapchain rebuilt)
//   - [slog.LevelWarn]: non-fatal issues (leaked resources at close)
//
// Engines capture the logger at Initialize; SetLogger affects engines
// created afterwards.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = noplog.Logger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current package logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
