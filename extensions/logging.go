package extensions

import (
	"context"
	"log/slog"
	"time"

	wisp "github.com/wisp-widgets/wisp"
)

// LoggingExtension logs every dispatcher command's kind, duration, and
// outcome at slog.LevelInfo/LevelWarn.
type LoggingExtension struct {
	wisp.BaseExtension
	log *slog.Logger
}

// NewLoggingExtension creates a logging extension writing to log, or
// slog.Default() if log is nil.
func NewLoggingExtension(log *slog.Logger) *LoggingExtension {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingExtension{
		BaseExtension: wisp.NewBaseExtension("logging"),
		log:           log,
	}
}

func (e *LoggingExtension) Wrap(ctx context.Context, next func() (any, error), op *wisp.CommandOp) (any, error) {
	start := time.Now()
	e.log.Debug("command starting", "extension", e.Name(), "kind", op.Kind)
	result, err := next()

	duration := time.Since(start)
	if err != nil {
		e.log.Warn("command failed", "extension", e.Name(), "kind", op.Kind, "duration", duration, "error", err)
	} else {
		e.log.Info("command completed", "extension", e.Name(), "kind", op.Kind, "duration", duration)
	}

	return result, err
}
