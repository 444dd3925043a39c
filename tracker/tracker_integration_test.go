package tracker_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamonnguyen/focuslog"
	"github.com/benjamonnguyen/focuslog/sqlite"
	"github.com/benjamonnguyen/focuslog/tracker"
)

func openStorage(t *testing.T) *sqlite.Storage {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.OpenWithOptions(ctx, sqlite.PoolOptions{
		Path: filepath.Join(t.TempDir(), "focuslog.db"),
		Size: 2,
	}, log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitializeStorage(ctx))
	return s
}

type steppedClock struct {
	start  time.Time
	offset time.Duration
}

func (c *steppedClock) now() time.Time { return c.start.Add(c.offset) }

func TestTrackerWithStorage_CompletedSession(t *testing.T) {
	ctx := context.Background()
	s := openStorage(t)
	clock := &steppedClock{start: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	tr := tracker.New(s.Sessions, s.Events, s, tracker.WithClock(clock.now), tracker.WithLogger(log.New(io.Discard)))

	id, err := tr.Start(ctx, tracker.StartRequest{Planned: 25 * time.Minute, Mode: focuslog.ModeFocus, TaskLabel: "report"})
	require.NoError(t, err)
	clock.offset = 180 * time.Second
	require.NoError(t, tr.RecordInterruption(ctx, "slack", focuslog.SeverityMedium, ""))
	clock.offset = 375 * time.Second
	require.NoError(t, tr.RecordMilestone(ctx, 25))
	clock.offset = 1200 * time.Second
	_, err = tr.Complete(ctx, 1200*time.Second)
	require.NoError(t, err)

	session, err := s.Sessions.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, session.Completed)
	assert.Equal(t, 1200*time.Second, session.Duration)
	assert.Equal(t, 1, session.InterruptionCount)
	require.NotNil(t, session.EndedAt)

	events, err := s.Events.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 4)
	wantKinds := []focuslog.EventKind{
		focuslog.SessionStartedEvent,
		focuslog.InterruptionEvent,
		focuslog.MilestoneEvent,
		focuslog.SessionCompletedEvent,
	}
	wantElapsed := []time.Duration{0, 180 * time.Second, 375 * time.Second, 1200 * time.Second}
	for i, e := range events {
		assert.Equal(t, wantKinds[i], e.Kind)
		assert.Equal(t, wantElapsed[i], e.Elapsed)
	}
	assert.Equal(t, int64(1200), events[3].Payload.(focuslog.SessionCompleted).ActualSeconds)
}

func TestTrackerWithStorage_AutoFlushRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStorage(t)
	clock := &steppedClock{start: time.Now()}
	tr := tracker.New(s.Sessions, s.Events, s,
		tracker.WithClock(clock.now),
		tracker.WithFlushThreshold(2),
		tracker.WithLogger(log.New(io.Discard)),
	)

	id, err := tr.Start(ctx, tracker.StartRequest{Planned: 10 * time.Minute, Mode: focuslog.ModeFreeTimer})
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		clock.offset = time.Duration(i) * time.Minute
		require.NoError(t, tr.RecordFocusShift(ctx, "editor", "docs"))
	}
	assert.Equal(t, 1, tr.Buffered())

	stored, err := s.Events.GetEvents(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	clock.offset = 6 * time.Minute
	_, err = tr.Abandon(ctx, "meeting")
	require.NoError(t, err)

	stored, err = s.Events.GetEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 6)
	for i := 1; i < len(stored); i++ {
		assert.GreaterOrEqual(t, stored[i].Elapsed, stored[i-1].Elapsed)
	}
	assert.Equal(t, 4, stored[4].Payload.(focuslog.FocusShift).ShiftNumber)

	session, err := s.Sessions.GetSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, session.Completed)
	assert.Equal(t, 6*time.Minute, session.Duration)

	stats, err := s.Events.GetEventStatistics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.FocusShifts)
}

func TestTrackerWithStorage_ClockStepsBackBeforeComplete(t *testing.T) {
	ctx := context.Background()
	s := openStorage(t)
	clock := &steppedClock{start: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	tr := tracker.New(s.Sessions, s.Events, s, tracker.WithClock(clock.now), tracker.WithLogger(log.New(io.Discard)))

	id, err := tr.Start(ctx, tracker.StartRequest{Planned: 25 * time.Minute, Mode: focuslog.ModeFocus})
	require.NoError(t, err)
	clock.offset = -2 * time.Second

	_, err = tr.Complete(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, tracker.Idle, tr.State())

	session, err := s.Sessions.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session.EndedAt)
	assert.False(t, session.EndedAt.Before(session.StartedAt))
	assert.True(t, session.Completed)
}

func TestTrackerWithStorage_PurgedWhileActive(t *testing.T) {
	ctx := context.Background()
	s := openStorage(t)
	clock := &steppedClock{start: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	tr := tracker.New(s.Sessions, s.Events, s, tracker.WithClock(clock.now), tracker.WithLogger(log.New(io.Discard)))

	id, err := tr.Start(ctx, tracker.StartRequest{Planned: 25 * time.Minute, Mode: focuslog.ModeFocus})
	require.NoError(t, err)
	clock.offset = time.Minute
	require.NoError(t, tr.RecordInterruption(ctx, "slack", focuslog.SeverityLow, ""))

	_, err = s.PurgeSession(ctx, id)
	require.NoError(t, err)

	clock.offset = 2 * time.Minute
	_, err = tr.Complete(ctx, 2*time.Minute)
	assert.ErrorIs(t, err, focuslog.ErrFinalizeFailed)
	assert.ErrorIs(t, err, focuslog.ErrNotFound)
	assert.Equal(t, tracker.Idle, tr.State())
	assert.Zero(t, tr.Buffered())

	events, err := s.Events.GetEvents(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, events)

	next, err := tr.Start(ctx, tracker.StartRequest{Planned: 25 * time.Minute, Mode: focuslog.ModeFocus})
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
	_, err = tr.Abandon(ctx, "done")
	require.NoError(t, err)
}
