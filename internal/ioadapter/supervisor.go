package ioadapter

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

const (
	maxReconnectAttempts = 5
	drainFrameBudget     = 10
)

// reconnectWithBackoff retries connect up to maxReconnectAttempts times with
// jittered exponential backoff, surfacing errs.KindAdapterFatal once
// exhausted, per §4.4's adapter-resilience contract.
func reconnectWithBackoff(ctx context.Context, adapterName string, connect func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if err := connect(); err == nil {
			return nil
		} else {
			lastErr = err
			slog.Warn("adapter connect attempt failed", "adapter", adapterName, "attempt", attempt, "error", err)
		}

		if attempt == maxReconnectAttempts {
			break
		}

		backoff := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
		jitter := time.Duration(rand.Int64N(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return errs.Wrap(errs.KindAdapterFatal, "reconnect cancelled", ctx.Err())
		}
	}
	return errs.Wrap(errs.KindAdapterFatal, "exhausted reconnect attempts for "+adapterName, lastErr)
}

// drainThenClose cooperatively signals stop via cancel, drains at most
// drainFrameBudget items from drainCh, then calls forceClose regardless of
// whether the budget was exhausted.
func drainThenClose(cancel context.CancelFunc, drainCh <-chan struct{}, forceClose func() error) error {
	cancel()
	for range drainFrameBudget {
		select {
		case _, ok := <-drainCh:
			if !ok {
				return forceClose()
			}
		case <-time.After(50 * time.Millisecond):
			return forceClose()
		}
	}
	return forceClose()
}
