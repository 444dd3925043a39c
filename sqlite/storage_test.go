package sqlite

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
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func testStorage(t *testing.T, opts ...func(*PoolOptions)) *Storage {
	t.Helper()
	o := PoolOptions{
		Path: filepath.Join(t.TempDir(), "focuslog.db"),
		Size: 3,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()
	s, err := OpenWithOptions(ctx, o, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitializeStorage(ctx))
	return s
}

func insertTestSession(t *testing.T, s *Storage, start time.Time, mode focuslog.SessionMode) focuslog.ExistingSessionRecord {
	t.Helper()
	rec, err := s.Sessions.InsertSession(context.Background(), focuslog.SessionRecord{
		StartedAt: start,
		Planned:   25 * time.Minute,
		Mode:      mode,
		TaskLabel: "writing",
		Category:  "work",
	})
	require.NoError(t, err)
	return rec
}

func newEvent(sid focuslog.SessionID, ts time.Time, elapsed time.Duration, p focuslog.Payload) focuslog.EventRecord {
	return focuslog.EventRecord{
		UID:       uuid.NewString(),
		SessionID: sid,
		Kind:      p.Kind(),
		Timestamp: ts,
		Elapsed:   elapsed,
		Payload:   p,
	}
}

func TestInitializeStorageIsIdempotent(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	rec := insertTestSession(t, s, time.Now(), focuslog.ModeFocus)
	require.NoError(t, s.InitializeStorage(ctx))
	require.NoError(t, s.InitializeStorage(ctx))

	got, err := s.Sessions.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "focuslog", "focuslog.db")

	s, err := OpenWithOptions(ctx, PoolOptions{Path: path, Size: 1}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitializeStorage(ctx))
	assert.FileExists(t, path)
}

func TestInitializeStorageCreatesIndexes(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	c, err := s.Pool.Acquire(ctx)
	require.NoError(t, err)
	defer s.Pool.Release(c)

	rows, err := c.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'sessions'`)
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Contains(t, names, "idx_sessions_start_time")
	assert.Contains(t, names, "idx_sessions_completed")
}

func TestPurgeSession(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	rec := insertTestSession(t, s, start, focuslog.ModeFocus)
	other := insertTestSession(t, s, start, focuslog.ModeFocus)

	var events []focuslog.EventRecord
	for i := range 12 {
		elapsed := time.Duration(i) * time.Minute
		events = append(events, newEvent(rec.ID, start.Add(elapsed), elapsed, focuslog.FocusShift{ShiftNumber: i + 1}))
	}
	events = append(events, newEvent(other.ID, start, 0, focuslog.SessionStarted{PlannedSeconds: 1500, Mode: focuslog.ModeFocus}))
	n, err := s.Events.InsertEvents(ctx, events)
	require.NoError(t, err)
	require.Equal(t, 13, n)

	purged, err := s.PurgeSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), purged)

	_, err = s.Sessions.GetSession(ctx, rec.ID)
	assert.ErrorIs(t, err, focuslog.ErrNotFound)
	all, err := s.Sessions.GetAllSessions(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, other.ID, all[0].ID)
	left, err := s.Events.GetEvents(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	otherEvents, err := s.Events.GetEvents(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, otherEvents, 1)

	_, err = s.PurgeSession(ctx, rec.ID)
	assert.ErrorIs(t, err, focuslog.ErrNotFound)
}

func TestSettings(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	_, err := s.Settings.GetSetting(ctx, "theme")
	assert.ErrorIs(t, err, focuslog.ErrNotFound)

	require.NoError(t, s.Settings.SaveSettings(ctx, map[string]string{"theme": "dark", "dnd": "true"}))
	require.NoError(t, s.Settings.SaveSetting(ctx, "theme", "light"))

	v, err := s.Settings.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)

	all, err := s.Settings.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "light", "dnd": "true"}, all)

	require.NoError(t, s.Settings.DeleteSetting(ctx, "dnd"))
	assert.ErrorIs(t, s.Settings.DeleteSetting(ctx, "dnd"), focuslog.ErrNotFound)
}
