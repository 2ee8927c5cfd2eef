package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry syncs buffered log entries before process exit. Metrics are
// pulled by Prometheus, so logs are all that can be pending. Sync failures on
// a terminal or pipe (EINVAL, ENOTTY) are expected and ignored. Returns
// ctx.Err() if ctx ends before the sync completes.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- logger.Sync() }()

	select {
	case err := <-done:
		if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			return nil
		}
		return fmt.Errorf("flush logs: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}
