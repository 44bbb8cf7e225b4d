package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

type fakeLease struct {
	refreshes atomic.Int32
	released  atomic.Bool
	failAfter int32
}

func (l *fakeLease) Refresh(context.Context, time.Duration) error {
	if n := l.refreshes.Add(1); l.failAfter > 0 && n >= l.failAfter {
		return errors.New("lease lost")
	}
	return nil
}

func (l *fakeLease) Release() { l.released.Store(true) }

type fakeLocks struct {
	lease *fakeLease
	held  bool
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.held = true
	return f.lease, nil
}

func TestWriterLeaseRefreshesUntilCancelled(t *testing.T) {
	locks := &fakeLocks{lease: &fakeLease{}}
	w := NewWriterLease(locks, "writer", 30*time.Millisecond, quietLogger())
	require.NoError(t, w.Acquire(context.Background()))

	other := NewWriterLease(locks, "writer", 30*time.Millisecond, quietLogger())
	require.ErrorIs(t, other.Acquire(context.Background()), domain.ErrLockHeld)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return locks.lease.refreshes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, locks.lease.released.Load())
}

func TestWriterLeaseStopsOnLostLease(t *testing.T) {
	locks := &fakeLocks{lease: &fakeLease{failAfter: 2}}
	w := NewWriterLease(locks, "writer", 15*time.Millisecond, quietLogger())
	require.NoError(t, w.Acquire(context.Background()))

	err := w.Run(context.Background())
	require.ErrorContains(t, err, "lease lost")
	require.True(t, locks.lease.released.Load())
}

func TestWriterLeaseRunRequiresAcquire(t *testing.T) {
	w := NewWriterLease(&fakeLocks{}, "writer", time.Second, quietLogger())
	require.Error(t, w.Run(context.Background()))
}
