package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry flushes telemetry buffers before process exit.
// Spans are flushed first so export errors still reach the log.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, shutdownTracing ShutdownFunc) error {
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			if logger != nil {
				logger.Warn("trace flush failed", zap.Error(err))
			}
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			return fmt.Errorf("flush logs: %w", err)
		}
	}
	return nil
}
