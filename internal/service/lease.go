package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// WriterLease keeps a distributed lock that marks this process as the only
// engine instance writing to the shared stores.
type WriterLease struct {
	locks  domain.LockManager
	key    string
	ttl    time.Duration
	lease  domain.Lease
	logger *slog.Logger
}

// NewWriterLease creates a WriterLease on key.
func NewWriterLease(locks domain.LockManager, key string, ttl time.Duration, logger *slog.Logger) *WriterLease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &WriterLease{
		locks:  locks,
		key:    key,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "writer_lease")),
	}
}

// Acquire takes the lease. It fails with domain.ErrLockHeld when another
// instance holds it.
func (w *WriterLease) Acquire(ctx context.Context) error {
	lease, err := w.locks.Acquire(ctx, w.key, w.ttl)
	if err != nil {
		return fmt.Errorf("writer_lease: acquire %s: %w", w.key, err)
	}
	w.lease = lease
	w.logger.InfoContext(ctx, "writer_lease: acquired", slog.String("key", w.key))
	return nil
}

// Run refreshes the lease at a third of its ttl until ctx is done and then
// releases it. A failed refresh ends Run with an error so the process stops
// writing.
func (w *WriterLease) Run(ctx context.Context) error {
	if w.lease == nil {
		return fmt.Errorf("writer_lease: run before acquire")
	}
	defer w.lease.Release()

	ticker := time.NewTicker(w.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.lease.Refresh(ctx, w.ttl); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("writer_lease: refresh %s: %w", w.key, err)
			}
		}
	}
}
