package engine

import (
	"log/slog"
	"time"
)

// sensitiveOps are engine operations that touch page content or dispatch
// input; their attributes are logged at warn level for audit purposes.
var sensitiveOps = map[string]bool{
	"navigate": true,
	"input":    true,
}

type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger() *auditLogger {
	return &auditLogger{
		logger: slog.Default().With("component", "engine"),
	}
}

func (l *auditLogger) logOp(op string, attrs ...any) {
	if l == nil {
		return
	}

	attrs = append(attrs, "ts", time.Now().Unix())

	if sensitiveOps[op] {
		l.logger.Warn("engine_op", append([]any{"op", op}, attrs...)...)
	} else {
		l.logger.Info("engine_op", append([]any{"op", op}, attrs...)...)
	}
}
