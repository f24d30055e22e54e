package progress

import (
	"context"

	"go.uber.org/zap"
)

// ZapReporter writes events to a structured log. Used when no event bus is
// configured (local runs, CLI usage).
type ZapReporter struct {
	logger *zap.Logger
}

// NewZapReporter creates a reporter logging at info level.
func NewZapReporter(logger *zap.Logger) *ZapReporter {
	return &ZapReporter{logger: logger}
}

// Emit implements Reporter.
func (r *ZapReporter) Emit(_ context.Context, event Event) error {
	r.logger.Info("workflow progress",
		zap.String("run_id", event.RunID),
		zap.String("stage", event.Stage),
		zap.String("phase", string(event.Phase)),
		zap.String("message", event.Message),
	)
	return nil
}
