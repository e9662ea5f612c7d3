// Package server provides process lifecycle management: ordered resource
// cleanup on shutdown and the metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/clickstream/clickstream-etl/internal/observability"
)

// ShutdownManager closes registered resources once, in reverse order of
// registration, within a timeout.
type ShutdownManager struct {
	timeout time.Duration
	logger  *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error

	closers   []namedCloser
	closersMu sync.Mutex
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// Timeout bounds the whole shutdown. Default: 30 seconds
	Timeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{Timeout: 30 * time.Second}
}

// NewShutdownManager creates a new shutdown manager.
func NewShutdownManager(config ShutdownConfig, logger *slog.Logger) *ShutdownManager {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ShutdownManager{
		timeout: config.Timeout,
		logger:  logger,
	}
}

// RegisterCloser adds a closer to be called during shutdown.
// Closers are called in reverse order of registration (LIFO).
func (sm *ShutdownManager) RegisterCloser(name string, closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, closer: closer})
}

// Shutdown closes every registered resource. Later calls return the result
// of the first. Every closer runs even if an earlier one fails; the errors
// are joined.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.shutdownOnce.Do(func() {
		sm.logger.Info("shutting down", "reason", reason)

		shutdownCtx, cancel := context.WithTimeout(ctx, sm.timeout)
		defer cancel()

		sm.closersMu.Lock()
		closers := sm.closers
		sm.closersMu.Unlock()

		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := closeWithin(shutdownCtx, c.closer); err != nil {
				sm.logger.Error("close failed", "resource", c.name, "error", err)
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
		sm.shutdownErr = errors.Join(errs...)
	})
	return sm.shutdownErr
}

// closeWithin abandons a closer that outlives ctx.
func closeWithin(ctx context.Context, c io.Closer) error {
	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
