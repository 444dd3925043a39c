package focuslog

import (
	"context"
	"errors"
	"time"
)

type Analytics interface {
	DailyTrend(ctx context.Context, days int) ([]DayValue, error)
	DailyTrendByLabel(ctx context.Context, label string, days int) ([]DayValue, error)
	HourlyProductivity(ctx context.Context, since time.Time) (HourlyDistribution, error)
	FocusQualityClusters(context.Context) (QualityClusters, error)
	CompletionRate(context.Context) (CompletionCounts, error)
	EventHeatmap(ctx context.Context, days int, kinds ...EventKind) (Heatmap, error)
	SessionHeatmap(ctx context.Context, days int) (Heatmap, error)
	InterruptionPattern(context.Context, SessionID) (InterruptionPattern, error)
}

type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	LoadSettings(context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Maintainer owns the schema and whole-session deletion.
type Maintainer interface {
	InitializeStorage(context.Context) error
	PurgeSession(context.Context, SessionID) (int64, error)
}

// Store is the flat call surface over the specialized repositories. It only
// delegates.
type Store struct {
	Sessions    SessionRepository
	Events      EventRepository
	Analytics   Analytics
	Settings    SettingsRepository
	Maintenance Maintainer
}

func (s *Store) InitializeStorage(ctx context.Context) error {
	return s.Maintenance.InitializeStorage(ctx)
}

// PurgeSession deletes a session and all its events, returning the number of
// events removed.
func (s *Store) PurgeSession(ctx context.Context, id SessionID) (int64, error) {
	return s.Maintenance.PurgeSession(ctx, id)
}

// sessions

func (s *Store) LogSession(ctx context.Context, session SessionRecord) (ExistingSessionRecord, error) {
	return s.Sessions.InsertSession(ctx, session)
}

func (s *Store) GetSession(ctx context.Context, id SessionID) (ExistingSessionRecord, error) {
	return s.Sessions.GetSession(ctx, id)
}

func (s *Store) GetAllSessions(ctx context.Context, limit, offset int) ([]ExistingSessionRecord, error) {
	return s.Sessions.GetAllSessions(ctx, limit, offset)
}

func (s *Store) GetSessionsByLabel(ctx context.Context, label string) ([]ExistingSessionRecord, error) {
	return s.Sessions.GetSessionsByLabel(ctx, label)
}

func (s *Store) GetSessionsByCategory(ctx context.Context, category string, since time.Time) ([]ExistingSessionRecord, error) {
	return s.Sessions.GetSessionsByCategory(ctx, category, since)
}

func (s *Store) DeleteSession(ctx context.Context, id SessionID) (ExistingSessionRecord, error) {
	return s.Sessions.DeleteSession(ctx, id)
}

// events

func (s *Store) InsertEvents(ctx context.Context, events []EventRecord) (int, error) {
	return s.Events.InsertEvents(ctx, events)
}

func (s *Store) GetEvents(ctx context.Context, id SessionID) ([]ExistingEventRecord, error) {
	return s.Events.GetEvents(ctx, id)
}

func (s *Store) GetEventsByRange(ctx context.Context, start, end time.Time) ([]ExistingEventRecord, error) {
	return s.Events.GetEventsByRange(ctx, start, end)
}

func (s *Store) GetEventsByKind(ctx context.Context, id SessionID, kind EventKind) ([]ExistingEventRecord, error) {
	return s.Events.GetEventsByKind(ctx, id, kind)
}

func (s *Store) GetInterruptionEvents(ctx context.Context, id SessionID) ([]ExistingEventRecord, error) {
	return s.Events.GetEventsByKind(ctx, id, InterruptionEvent)
}

func (s *Store) GetFocusShiftEvents(ctx context.Context, id SessionID) ([]ExistingEventRecord, error) {
	return s.Events.GetEventsByKind(ctx, id, FocusShiftEvent)
}

func (s *Store) GetDistractionEvents(ctx context.Context, id SessionID) ([]ExistingEventRecord, error) {
	return s.Events.GetEventsByKind(ctx, id, DistractionEvent)
}

func (s *Store) GetEventStatistics(ctx context.Context, id SessionID) (EventStatistics, error) {
	return s.Events.GetEventStatistics(ctx, id)
}

func (s *Store) DeleteEventsForSession(ctx context.Context, id SessionID) (int64, error) {
	return s.Events.DeleteEventsForSession(ctx, id)
}

// analytics

func (s *Store) GetDailyTrend(ctx context.Context, days int) ([]DayValue, error) {
	return s.Analytics.DailyTrend(ctx, days)
}

func (s *Store) GetDailyTrendByLabel(ctx context.Context, label string, days int) ([]DayValue, error) {
	return s.Analytics.DailyTrendByLabel(ctx, label, days)
}

func (s *Store) GetHourlyProductivity(ctx context.Context, since time.Time) (HourlyDistribution, error) {
	return s.Analytics.HourlyProductivity(ctx, since)
}

func (s *Store) GetCompletionRate(ctx context.Context) (CompletionCounts, error) {
	return s.Analytics.CompletionRate(ctx)
}

func (s *Store) GetFocusQualityStats(ctx context.Context) (QualityClusters, error) {
	return s.Analytics.FocusQualityClusters(ctx)
}

func (s *Store) GetEventHeatmap(ctx context.Context, days int, kinds ...EventKind) (Heatmap, error) {
	return s.Analytics.EventHeatmap(ctx, days, kinds...)
}

func (s *Store) GetSessionHeatmap(ctx context.Context, days int) (Heatmap, error) {
	return s.Analytics.SessionHeatmap(ctx, days)
}

func (s *Store) GetInterruptionPattern(ctx context.Context, id SessionID) (InterruptionPattern, error) {
	return s.Analytics.InterruptionPattern(ctx, id)
}

// settings

func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	return s.Settings.LoadSettings(ctx)
}

// GetSetting returns def when key is unset.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	v, err := s.Settings.GetSetting(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

func (s *Store) SaveSetting(ctx context.Context, key, value string) error {
	return s.Settings.SaveSetting(ctx, key, value)
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return s.Settings.DeleteSetting(ctx, key)
}
