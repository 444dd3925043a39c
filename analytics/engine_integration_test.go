package analytics_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamonnguyen/focuslog"
	"github.com/benjamonnguyen/focuslog/analytics"
	"github.com/benjamonnguyen/focuslog/sqlite"
)

func TestEngineWithStorage(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.OpenWithOptions(ctx, sqlite.PoolOptions{
		Path: filepath.Join(t.TempDir(), "focuslog.db"),
		Size: 2,
	}, log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitializeStorage(ctx))

	now := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	finished := func(start time.Time, d time.Duration, mode focuslog.SessionMode, interruptions int) focuslog.SessionID {
		rec, err := s.Sessions.InsertSession(ctx, focuslog.SessionRecord{
			StartedAt: start, Planned: 30 * time.Minute, Mode: mode, TaskLabel: "report",
		})
		require.NoError(t, err)
		_, err = s.Sessions.FinalizeSession(ctx, rec.ID, focuslog.Finalization{
			EndedAt: start.Add(d), Duration: d, Completed: interruptions == 0, InterruptionCount: interruptions,
		})
		require.NoError(t, err)
		return rec.ID
	}
	deep := finished(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), 30*time.Minute, focuslog.ModeFocus, 0)
	noisy := finished(time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC), 20*time.Minute, focuslog.ModeFocus, 3)
	finished(time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC), 5*time.Minute, focuslog.ModeShortBreak, 0)

	start := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	var events []focuslog.EventRecord
	for i, at := range []time.Duration{2 * time.Minute, 12 * time.Minute, 25 * time.Minute} {
		events = append(events, focuslog.EventRecord{
			UID:       uuid.NewString(),
			SessionID: noisy,
			Kind:      focuslog.InterruptionEvent,
			Timestamp: start.Add(at),
			Elapsed:   at,
			Payload:   focuslog.Interruption{Reason: "chat", Severity: focuslog.SeverityMedium, Number: i + 1},
		})
	}
	_, err = s.Events.InsertEvents(ctx, events)
	require.NoError(t, err)

	e := analytics.New(s.Sessions, s.Events,
		analytics.WithClock(func() time.Time { return now }),
		analytics.WithLocation(time.UTC),
		analytics.WithLogger(log.New(io.Discard)),
	)

	trend, err := e.DailyTrend(ctx, 3)
	require.NoError(t, err)
	require.Len(t, trend, 3)
	assert.Equal(t, []int64{0, 20, 30}, []int64{trend[0].Minutes, trend[1].Minutes, trend[2].Minutes})

	hourly, err := e.HourlyProductivity(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(30), hourly[9])
	assert.Equal(t, int64(20), hourly[14])
	assert.Zero(t, hourly[15])

	q, err := e.FocusQualityClusters(ctx)
	require.NoError(t, err)
	assert.Equal(t, focuslog.QualityClusters{DeepWork: 1, Distracted: 1}, q)

	rate, err := e.CompletionRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, focuslog.CompletionCounts{Completed: 1, Interrupted: 1}, rate)

	h, err := e.EventHeatmap(ctx, 7, focuslog.InterruptionEvent)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Cells[5][14])
	assert.Equal(t, 3, h.Total())

	p, err := e.InterruptionPattern(ctx, noisy)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 3, p.Severity[focuslog.SeverityMedium])
	assert.Equal(t, 1, p.Early)
	assert.Equal(t, 1, p.Middle)
	assert.Equal(t, 1, p.Late)

	p, err = e.InterruptionPattern(ctx, deep)
	require.NoError(t, err)
	assert.Zero(t, p.Total)
}
