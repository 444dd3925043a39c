// Package analytics derives trends, distributions and heatmaps from stored
// sessions and events. Everything is bucketed in the engine's local time zone.
package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/benjamonnguyen/focuslog"
)

type SessionSource interface {
	GetSession(context.Context, focuslog.SessionID) (focuslog.ExistingSessionRecord, error)
	SessionSpans(ctx context.Context, since time.Time, modes ...focuslog.SessionMode) ([]focuslog.SessionSpan, error)
	LabelSpans(ctx context.Context, label string, since time.Time) ([]focuslog.SessionSpan, error)
	InterruptionHistogram(ctx context.Context, modes ...focuslog.SessionMode) ([]focuslog.InterruptionBucket, error)
	CompletionCounts(ctx context.Context, modes ...focuslog.SessionMode) (focuslog.CompletionCounts, error)
}

type EventSource interface {
	GetEventsByKind(context.Context, focuslog.SessionID, focuslog.EventKind) ([]focuslog.ExistingEventRecord, error)
	CountEventsByMinute(ctx context.Context, since time.Time, kinds ...focuslog.EventKind) ([]focuslog.MinuteCount, error)
}

// defaultPlanned stands in for a missing planned duration when splitting a
// session into phases.
const defaultPlanned = 30 * time.Minute

const dayLabelFormat = "02 Jan"

type Engine struct {
	sessions SessionSource
	events   EventSource
	now      func() time.Time
	loc      *time.Location
	l        *log.Logger
}

var _ focuslog.Analytics = (*Engine)(nil)

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.l = l }
}

func New(sessions SessionSource, events EventSource, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		events:   events,
		now:      time.Now,
		loc:      time.Local,
		l:        log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DailyTrend returns exactly days entries of work minutes, oldest first,
// ending today. Days without sessions are zero.
func (e *Engine) DailyTrend(ctx context.Context, days int) ([]focuslog.DayValue, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}
	window := e.window(days)
	spans, err := e.sessions.SessionSpans(ctx, window[0], focuslog.WorkModes...)
	if err != nil {
		return nil, err
	}
	return e.trend(window, spans), nil
}

// DailyTrendByLabel is DailyTrend restricted to one task label, any mode.
func (e *Engine) DailyTrendByLabel(ctx context.Context, label string, days int) ([]focuslog.DayValue, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}
	window := e.window(days)
	spans, err := e.sessions.LabelSpans(ctx, label, window[0])
	if err != nil {
		return nil, err
	}
	return e.trend(window, spans), nil
}

func (e *Engine) trend(window []time.Time, spans []focuslog.SessionSpan) []focuslog.DayValue {
	out := make([]focuslog.DayValue, len(window))
	index := make(map[string]int, len(window))
	for i, day := range window {
		out[i] = focuslog.DayValue{Day: day, Label: day.Format(dayLabelFormat)}
		index[dayKey(day)] = i
	}
	for _, s := range spans {
		i, ok := index[dayKey(s.StartedAt.In(e.loc))]
		if !ok {
			continue
		}
		out[i].Seconds += int64(s.Duration / time.Second)
	}
	for i := range out {
		out[i].Minutes = out[i].Seconds / 60
	}
	return out
}

// HourlyProductivity sums work minutes by local start hour. A zero since
// covers all history.
func (e *Engine) HourlyProductivity(ctx context.Context, since time.Time) (focuslog.HourlyDistribution, error) {
	var out focuslog.HourlyDistribution
	spans, err := e.sessions.SessionSpans(ctx, since, focuslog.WorkModes...)
	if err != nil {
		return out, err
	}
	var seconds [24]int64
	for _, s := range spans {
		seconds[s.StartedAt.In(e.loc).Hour()] += int64(s.Duration / time.Second)
	}
	for h, secs := range seconds {
		out[h] = secs / 60
	}
	return out, nil
}

// FocusQualityClusters partitions finalized work sessions by interruption
// count.
func (e *Engine) FocusQualityClusters(ctx context.Context) (focuslog.QualityClusters, error) {
	var q focuslog.QualityClusters
	buckets, err := e.sessions.InterruptionHistogram(ctx, focuslog.WorkModes...)
	if err != nil {
		return q, err
	}
	for _, b := range buckets {
		switch focuslog.ClusterFor(b.Interruptions) {
		case focuslog.DeepWork:
			q.DeepWork += b.Sessions
		case focuslog.Moderate:
			q.Moderate += b.Sessions
		case focuslog.Distracted:
			q.Distracted += b.Sessions
		}
	}
	return q, nil
}

func (e *Engine) CompletionRate(ctx context.Context) (focuslog.CompletionCounts, error) {
	return e.sessions.CompletionCounts(ctx, focuslog.WorkModes...)
}

// EventHeatmap counts events of kinds (all kinds when empty) per local day
// and hour over the last days days.
func (e *Engine) EventHeatmap(ctx context.Context, days int, kinds ...focuslog.EventKind) (focuslog.Heatmap, error) {
	if days < 1 {
		return focuslog.Heatmap{}, fmt.Errorf("days must be at least 1, got %d", days)
	}
	for _, k := range kinds {
		if err := k.Validate(); err != nil {
			return focuslog.Heatmap{}, err
		}
	}
	window := e.window(days)
	counts, err := e.events.CountEventsByMinute(ctx, window[0], kinds...)
	if err != nil {
		return focuslog.Heatmap{}, err
	}

	h, index := newHeatmap(window)
	for _, c := range counts {
		local := c.Minute.In(e.loc)
		if i, ok := index[dayKey(local)]; ok {
			h.Cells[i][local.Hour()] += c.Count
		}
	}
	return h, nil
}

// SessionHeatmap holds work minutes per local day and start hour.
func (e *Engine) SessionHeatmap(ctx context.Context, days int) (focuslog.Heatmap, error) {
	if days < 1 {
		return focuslog.Heatmap{}, fmt.Errorf("days must be at least 1, got %d", days)
	}
	window := e.window(days)
	spans, err := e.sessions.SessionSpans(ctx, window[0], focuslog.WorkModes...)
	if err != nil {
		return focuslog.Heatmap{}, err
	}

	h, index := newHeatmap(window)
	seconds := make([][24]int64, len(window))
	for _, s := range spans {
		local := s.StartedAt.In(e.loc)
		if i, ok := index[dayKey(local)]; ok {
			seconds[i][local.Hour()] += int64(s.Duration / time.Second)
		}
	}
	for i := range seconds {
		for hour, secs := range seconds[i] {
			h.Cells[i][hour] = int(secs / 60)
		}
	}
	return h, nil
}

// InterruptionPattern breaks a session's interruptions down by phase,
// severity and spacing.
func (e *Engine) InterruptionPattern(ctx context.Context, id focuslog.SessionID) (focuslog.InterruptionPattern, error) {
	session, err := e.sessions.GetSession(ctx, id)
	if err != nil {
		return focuslog.InterruptionPattern{}, err
	}
	events, err := e.events.GetEventsByKind(ctx, id, focuslog.InterruptionEvent)
	if err != nil {
		if !focuslog.OnlyWarnings(err) {
			return focuslog.InterruptionPattern{}, err
		}
		e.l.Warn("interruption pattern includes undecodable events", "session", id, "err", err)
	}
	slices.SortStableFunc(events, func(a, b focuslog.ExistingEventRecord) int {
		if c := cmp.Compare(a.Elapsed, b.Elapsed); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	p := focuslog.InterruptionPattern{
		Total:    len(events),
		Severity: make(map[focuslog.Severity]int),
	}
	if len(events) == 0 {
		return p, nil
	}

	planned := session.Planned
	if planned <= 0 {
		planned = defaultPlanned
	}
	early := time.Duration(float64(planned) * 0.33)
	late := time.Duration(float64(planned) * 0.66)

	first := events[0].Elapsed
	p.FirstAt = &first
	for _, ev := range events {
		switch {
		case ev.Elapsed < early:
			p.Early++
		case ev.Elapsed < late:
			p.Middle++
		default:
			p.Late++
		}
		if in, ok := ev.Payload.(focuslog.Interruption); ok && in.Severity != "" {
			p.Severity[in.Severity]++
		}
	}
	if len(events) > 1 {
		gap := (events[len(events)-1].Elapsed - first) / time.Duration(len(events)-1)
		p.MeanGap = &gap
	}
	return p, nil
}

// window returns the local midnights of the last days days, oldest first.
func (e *Engine) window(days int) []time.Time {
	today := e.startOfDay(e.now())
	out := make([]time.Time, days)
	for i := range days {
		out[i] = today.AddDate(0, 0, i-(days-1))
	}
	return out
}

func (e *Engine) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(e.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc)
}

func dayKey(local time.Time) string {
	return local.Format(time.DateOnly)
}

func newHeatmap(window []time.Time) (focuslog.Heatmap, map[string]int) {
	h := focuslog.Heatmap{
		Days:   window,
		Labels: make([]string, len(window)),
		Cells:  make([][24]int, len(window)),
	}
	index := make(map[string]int, len(window))
	for i, day := range window {
		h.Labels[i] = day.Format(dayLabelFormat)
		index[dayKey(day)] = i
	}
	return h, index
}
