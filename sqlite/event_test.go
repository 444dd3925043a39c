package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamonnguyen/focuslog"
)

func TestEventRepo_InsertAndGet(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	rec := insertTestSession(t, s, start, focuslog.ModeFocus)

	events := []focuslog.EventRecord{
		newEvent(rec.ID, start, 0, focuslog.SessionStarted{PlannedSeconds: 1500, Mode: focuslog.ModeFocus}),
		newEvent(rec.ID, start.Add(3*time.Minute), 3*time.Minute, focuslog.Interruption{
			Reason: "slack", Severity: focuslog.SeverityMedium, Number: 1, FirstAtSeconds: 180,
		}),
		newEvent(rec.ID, start.Add(375*time.Second), 375*time.Second, focuslog.MilestoneReached{Milestone: "quarter", Percent: 25}),
	}
	n, err := s.Events.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Events.GetEvents(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, events[i].UID, e.UID)
		assert.Equal(t, events[i].Kind, e.Kind)
		assert.Equal(t, events[i].Elapsed, e.Elapsed)
		assert.True(t, events[i].Timestamp.Equal(e.Timestamp))
		assert.Equal(t, events[i].Payload, e.Payload)
	}

	interruptions, err := s.Events.GetEventsByKind(ctx, rec.ID, focuslog.InterruptionEvent)
	require.NoError(t, err)
	require.Len(t, interruptions, 1)
	assert.Equal(t, focuslog.SeverityMedium, interruptions[0].Payload.(focuslog.Interruption).Severity)

	_, err = s.Events.GetEventsByKind(ctx, rec.ID, "bogus")
	assert.Error(t, err)
}

func TestEventRepo_InsertIsIdempotentPerUID(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Now()
	rec := insertTestSession(t, s, start, focuslog.ModeFocus)

	batch := []focuslog.EventRecord{
		newEvent(rec.ID, start, 0, focuslog.SessionStarted{Mode: focuslog.ModeFocus}),
		newEvent(rec.ID, start, time.Second, focuslog.DndToggled{Enabled: true}),
	}
	n, err := s.Events.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a retried flush resends the same batch plus one new event
	retry := append(batch, newEvent(rec.ID, start, 2*time.Second, focuslog.DndToggled{}))
	n, err = s.Events.InsertEvents(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Events.GetEvents(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestEventRepo_InsertIsAtomic(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Now()
	rec := insertTestSession(t, s, start, focuslog.ModeFocus)

	_, err := s.Events.InsertEvents(ctx, []focuslog.EventRecord{
		newEvent(rec.ID, start, 0, focuslog.SessionStarted{Mode: focuslog.ModeFocus}),
		newEvent(rec.ID+99, start, 0, focuslog.SessionStarted{Mode: focuslog.ModeFocus}),
	})
	assert.ErrorIs(t, err, focuslog.ErrStorage)

	_, err = s.Events.InsertEvents(ctx, []focuslog.EventRecord{
		newEvent(rec.ID, start, 0, focuslog.SessionStarted{Mode: focuslog.ModeFocus}),
		newEvent(rec.ID, start, 0, focuslog.Distraction{Severity: focuslog.SeverityLow}),
	})
	assert.ErrorIs(t, err, focuslog.ErrInvalidPayload)

	got, err := s.Events.GetEvents(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventRepo_OrderedByElapsedThenID(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Now()
	rec := insertTestSession(t, s, start, focuslog.ModeFocus)

	late := newEvent(rec.ID, start, 90*time.Second, focuslog.FocusShift{ShiftNumber: 3})
	tieA := newEvent(rec.ID, start, 30*time.Second, focuslog.FocusShift{ShiftNumber: 1})
	tieB := newEvent(rec.ID, start, 30*time.Second, focuslog.FocusShift{ShiftNumber: 2})
	_, err := s.Events.InsertEvents(ctx, []focuslog.EventRecord{late, tieA, tieB})
	require.NoError(t, err)

	got, err := s.Events.GetEvents(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{tieA.UID, tieB.UID, late.UID}, []string{got[0].UID, got[1].UID, got[2].UID})
}

func TestEventRepo_MetadataDecodeWarning(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Now()
	rec := insertTestSession(t, s, start, focuslog.ModeFocus)

	_, err := s.Events.InsertEvents(ctx, []focuslog.EventRecord{
		newEvent(rec.ID, start, 0, focuslog.SessionStarted{Mode: focuslog.ModeFocus}),
	})
	require.NoError(t, err)
	_, err = s.Repo.RunStatement(ctx, "corrupt event", Stmt(InsertEvent,
		"corrupt-uid", int64(rec.ID), string(focuslog.InterruptionEvent), formatTime(start), 60, "{not json", formatTime(start),
	))
	require.NoError(t, err)

	got, err := s.Events.GetEvents(ctx, rec.ID)
	require.Error(t, err)
	assert.True(t, focuslog.OnlyWarnings(err))
	var warn *focuslog.MetadataDecodeWarning
	require.ErrorAs(t, err, &warn)
	assert.Equal(t, focuslog.InterruptionEvent, warn.Kind)

	require.Len(t, got, 2)
	assert.Equal(t, focuslog.Interruption{}, got[1].Payload)
}

func TestEventRepo_Statistics(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Now()
	rec := insertTestSession(t, s, start, focuslog.ModeFocus)

	_, err := s.Events.InsertEvents(ctx, []focuslog.EventRecord{
		newEvent(rec.ID, start, 0, focuslog.SessionStarted{Mode: focuslog.ModeFocus}),
		newEvent(rec.ID, start, time.Minute, focuslog.Interruption{Severity: focuslog.SeverityLow}),
		newEvent(rec.ID, start, 2*time.Minute, focuslog.Interruption{Severity: focuslog.SeverityHigh}),
		newEvent(rec.ID, start, 3*time.Minute, focuslog.EnvironmentChanged{Factor: "noise", Value: "loud"}),
		newEvent(rec.ID, start, 4*time.Minute, focuslog.BreakStarted{BreakType: "stretch"}),
	})
	require.NoError(t, err)

	stats, err := s.Events.GetEventStatistics(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Interruptions)
	assert.Equal(t, 1, stats.EnvironmentChanges)
	assert.Equal(t, 1, stats.Breaks)
	assert.Equal(t, 1, stats.ByKind[focuslog.SessionStartedEvent])

	empty, err := s.Events.GetEventStatistics(ctx, rec.ID+1)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}

func TestEventRepo_Ranges(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	rec := insertTestSession(t, s, start, focuslog.ModeFocus)

	var events []focuslog.EventRecord
	for i := range 5 {
		elapsed := time.Duration(i) * 30 * time.Second
		events = append(events, newEvent(rec.ID, start.Add(elapsed), elapsed, focuslog.FocusShift{ShiftNumber: i}))
	}
	_, err := s.Events.InsertEvents(ctx, events)
	require.NoError(t, err)

	inRange, err := s.Events.GetEventsByRange(ctx, start.Add(30*time.Second), start.Add(90*time.Second))
	require.NoError(t, err)
	assert.Len(t, inRange, 3)

	counts, err := s.Events.CountEventsByMinute(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, []focuslog.MinuteCount{
		{Minute: start, Count: 2},
		{Minute: start.Add(time.Minute), Count: 2},
		{Minute: start.Add(2 * time.Minute), Count: 1},
	}, counts)

	none, err := s.Events.CountEventsByMinute(ctx, start, focuslog.InterruptionEvent)
	require.NoError(t, err)
	assert.Empty(t, none)

	deleted, err := s.Events.DeleteEventsByRange(ctx, start, start.Add(59*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = s.Events.DeleteEventsForSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	_, err = s.Events.GetEventsByRange(ctx, start, start.Add(-time.Second))
	assert.Error(t, err)
}
