package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/metrics"
)

type fakeArchiver struct {
	runs int
	err  error
}

func (f *fakeArchiver) ArchiveEvents(context.Context) (uint64, int, error) {
	f.runs++
	return uint64(f.runs * 10), 10, f.err
}

func TestArchiveServiceFinalPassOnShutdown(t *testing.T) {
	a := &fakeArchiver{}
	s := NewArchiveService(a, time.Hour, metrics.New(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Run(ctx), context.Canceled)
	require.Equal(t, 1, a.runs)
}

func TestArchiveServiceSurvivesFailure(t *testing.T) {
	a := &fakeArchiver{err: errors.New("bucket unavailable")}
	s := NewArchiveService(a, 0, nil, quietLogger())
	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	require.Equal(t, 2, a.runs)
	require.Equal(t, time.Minute, s.interval)
}
