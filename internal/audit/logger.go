package audit

import (
	"context"
	"log/slog"
)

// Sink persists audit entries. Implemented by Repository; tests inject
// failing sinks to verify the best-effort contract.
type Sink interface {
	InsertEntry(ctx context.Context, entry Entry) error
}

// Logger writes audit entries as a fire-and-forget side effect. A failed
// write is logged and dropped: the triggering role mutation already
// committed and must not be rolled back or fail over telemetry.
type Logger struct {
	sink   Sink
	logger *slog.Logger
}

// NewLogger constructs a Logger.
func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{sink: sink, logger: logger}
}

// LogEvent records a role assignment change. Never returns an error.
func (l *Logger) LogEvent(ctx context.Context, entry Entry) {
	if l == nil || l.sink == nil {
		return
	}
	if err := l.sink.InsertEntry(ctx, entry); err != nil {
		l.logger.Error("audit write failed",
			slog.String("user_id", entry.UserID),
			slog.Int64("role_id", entry.RoleID),
			slog.String("action", string(entry.Action)),
			slog.Any("error", err),
		)
	}
}
