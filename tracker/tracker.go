// Package tracker drives one focus session at a time and buffers its events
// until they are flushed to storage.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thiht/transactor"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/benjamonnguyen/focuslog"
	"github.com/benjamonnguyen/focuslog/telemetry"
)

type State uint8

const (
	Idle State = iota
	Active
	Paused
	Completed
	Abandoned
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type SessionStore interface {
	InsertSession(context.Context, focuslog.SessionRecord) (focuslog.ExistingSessionRecord, error)
	FinalizeSession(context.Context, focuslog.SessionID, focuslog.Finalization) (focuslog.ExistingSessionRecord, error)
}

type EventSink interface {
	InsertEvents(context.Context, []focuslog.EventRecord) (int, error)
}

type StartRequest struct {
	Planned   time.Duration
	Mode      focuslog.SessionMode
	TaskLabel string
	Category  string
	AppBefore string
}

// Tracker is the session state machine. It is safe for concurrent use; every
// operation is serialized.
type Tracker struct {
	mu sync.Mutex

	sessions  SessionStore
	events    EventSink
	tx        transactor.Transactor
	l         *log.Logger
	m         *telemetry.Instruments
	threshold int
	now       func() time.Time
	newUID    func() string

	state   State
	session *activeSession
	buffer  []focuslog.EventRecord
}

type activeSession struct {
	id          focuslog.SessionID
	startedAt   time.Time
	planned     time.Duration
	mode        focuslog.SessionMode
	lastElapsed time.Duration

	interruptions     int
	firstInterruption time.Duration
	focusShifts       int
	lastShiftAt       time.Duration

	// set once a terminal event is buffered
	final *focuslog.Finalization
}

type Option func(*Tracker)

func WithFlushThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) { t.l = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithInstruments(m *telemetry.Instruments) Option {
	return func(t *Tracker) { t.m = m }
}

func WithUIDGenerator(fn func() string) Option {
	return func(t *Tracker) { t.newUID = fn }
}

// New returns an idle tracker. tx must scope sessions and events to the same
// transaction so a terminal flush and finalization commit together.
func New(sessions SessionStore, events EventSink, tx transactor.Transactor, opts ...Option) *Tracker {
	t := &Tracker{
		sessions:  sessions,
		events:    events,
		tx:        tx,
		l:         log.Default(),
		m:         telemetry.Default(),
		threshold: focuslog.DefaultFlushThreshold,
		now:       time.Now,
		newUID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) ActiveSession() (focuslog.SessionID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return 0, false
	}
	return t.session.id, true
}

func (t *Tracker) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

func (t *Tracker) InterruptionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return 0
	}
	return t.session.interruptions
}

// Start inserts the session row and records session_started at elapsed 0.
func (t *Tracker) Start(ctx context.Context, req StartRequest) (focuslog.SessionID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Idle {
		return 0, t.transitionErr("start")
	}
	if err := req.Mode.Validate(); err != nil {
		return 0, err
	}
	if req.Planned < 0 {
		return 0, fmt.Errorf("planned duration must be non-negative, got %s", req.Planned)
	}

	startedAt := t.now()
	rec, err := t.sessions.InsertSession(ctx, focuslog.SessionRecord{
		StartedAt: startedAt,
		Planned:   req.Planned,
		Mode:      req.Mode,
		TaskLabel: req.TaskLabel,
		Category:  req.Category,
	})
	if err != nil {
		return 0, err
	}

	t.session = &activeSession{
		id:        rec.ID,
		startedAt: startedAt,
		planned:   req.Planned,
		mode:      req.Mode,
	}
	t.buffer = t.buffer[:0]
	t.state = Active
	t.l.Info("session started", "id", rec.ID, "mode", req.Mode, "planned", req.Planned, "label", req.TaskLabel)

	t.appendLocked(ctx, 0, focuslog.SessionStarted{
		PlannedSeconds: int64(req.Planned / time.Second),
		Mode:           req.Mode,
		AppBefore:      req.AppBefore,
	})
	return rec.ID, t.autoFlushLocked(ctx)
}

func (t *Tracker) RecordInterruption(ctx context.Context, reason string, severity focuslog.Severity, recoveryApp string) error {
	if err := severity.Validate(); err != nil {
		return fmt.Errorf("%w: %w", focuslog.ErrInvalidPayload, err)
	}
	return t.record(ctx, func(s *activeSession, elapsed time.Duration) focuslog.Payload {
		s.interruptions++
		if s.interruptions == 1 {
			s.firstInterruption = elapsed
		}
		return focuslog.Interruption{
			Reason:         reason,
			Severity:       severity,
			Number:         s.interruptions,
			FirstAtSeconds: int64(s.firstInterruption / time.Second),
			RecoveryApp:    recoveryApp,
		}
	})
}

func (t *Tracker) RecordFocusShift(ctx context.Context, from, to string) error {
	return t.record(ctx, func(s *activeSession, elapsed time.Duration) focuslog.Payload {
		s.focusShifts++
		focused := elapsed - s.lastShiftAt
		s.lastShiftAt = elapsed
		return focuslog.FocusShift{
			FromContext:  from,
			ToContext:    to,
			FocusSeconds: int64(focused / time.Second),
			ShiftNumber:  s.focusShifts,
		}
	})
}

// RecordDistraction records an identified distraction. Severity defaults to
// medium.
func (t *Tracker) RecordDistraction(ctx context.Context, kind, source string, severity focuslog.Severity) error {
	if severity == "" {
		severity = focuslog.SeverityMedium
	}
	p := focuslog.Distraction{Type: kind, Source: source, Severity: severity}
	if err := p.Validate(); err != nil {
		return err
	}
	return t.record(ctx, func(*activeSession, time.Duration) focuslog.Payload { return p })
}

// RecordMilestone records a progress milestone, named after the quarter it
// marks when percent is 25, 50, 75 or 100.
func (t *Tracker) RecordMilestone(ctx context.Context, percent int) error {
	p := focuslog.MilestoneReached{Milestone: milestoneName(percent), Percent: percent}
	if err := p.Validate(); err != nil {
		return err
	}
	return t.record(ctx, func(*activeSession, time.Duration) focuslog.Payload { return p })
}

func (t *Tracker) RecordEnvironmentChange(ctx context.Context, factor, value string) error {
	p := focuslog.EnvironmentChanged{Factor: factor, Value: value}
	if err := p.Validate(); err != nil {
		return err
	}
	return t.record(ctx, func(*activeSession, time.Duration) focuslog.Payload { return p })
}

func (t *Tracker) RecordDndToggle(ctx context.Context, enabled bool) error {
	return t.record(ctx, func(*activeSession, time.Duration) focuslog.Payload {
		return focuslog.DndToggled{Enabled: enabled}
	})
}

// RecordBreak records the start or end of a break taken inside the session.
func (t *Tracker) RecordBreak(ctx context.Context, breakType string, started bool, d time.Duration) error {
	return t.record(ctx, func(*activeSession, time.Duration) focuslog.Payload {
		if started {
			return focuslog.BreakStarted{BreakType: breakType, DurationSeconds: int64(d / time.Second)}
		}
		return focuslog.BreakEnded{BreakType: breakType, DurationSeconds: int64(d / time.Second)}
	})
}

func (t *Tracker) Pause(ctx context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return t.transitionErr("pause")
	}
	t.appendLocked(ctx, t.elapsedLocked(), focuslog.SessionPaused{Reason: reason, Severity: focuslog.SeverityLow})
	t.state = Paused
	return t.autoFlushLocked(ctx)
}

func (t *Tracker) Resume(ctx context.Context, appContext string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Paused {
		return t.transitionErr("resume")
	}
	t.appendLocked(ctx, t.elapsedLocked(), focuslog.SessionResumed{AppContext: appContext})
	t.state = Active
	return t.autoFlushLocked(ctx)
}

// Complete is CompleteBy with the timer as completer.
func (t *Tracker) Complete(ctx context.Context, actual time.Duration) (focuslog.ExistingSessionRecord, error) {
	return t.CompleteBy(ctx, actual, "timer")
}

// CompleteBy records session_completed, flushes the buffer and finalizes the
// session in one transaction, then returns to Idle. by names what ended the
// session, such as "timer" or "user".
//
// When the transaction fails with a transient error the tracker stays
// Completed with every event still buffered, and calling Complete again
// retries. Any other failure, such as the session row having been purged,
// discards the session and returns the tracker to Idle.
func (t *Tracker) CompleteBy(ctx context.Context, actual time.Duration, by string) (focuslog.ExistingSessionRecord, error) {
	if by == "" {
		by = "timer"
	}
	if actual < 0 {
		return focuslog.ExistingSessionRecord{}, fmt.Errorf("actual duration must be non-negative, got %s", actual)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.state == Active || t.state == Paused:
		s := t.session
		elapsed := t.elapsedLocked()
		var ratio float64
		if s.planned > 0 {
			ratio = min(float64(actual)/float64(s.planned), 1)
		}
		t.appendLocked(ctx, elapsed, focuslog.SessionCompleted{
			ActualSeconds:     int64(actual / time.Second),
			PlannedSeconds:    int64(s.planned / time.Second),
			CompletedBy:       by,
			InterruptionCount: s.interruptions,
			CompletionRatio:   ratio,
		})
		s.final = &focuslog.Finalization{
			EndedAt:           t.endTimeLocked(elapsed),
			Duration:          actual,
			Completed:         true,
			InterruptionCount: s.interruptions,
		}
		t.state = Completed
	case t.state == Completed:
		// retry of a failed finalization
	default:
		return focuslog.ExistingSessionRecord{}, t.transitionErr("complete")
	}
	return t.finalizeLocked(ctx, "completed")
}

// Abandon ends the session early. Failure handling matches Complete.
func (t *Tracker) Abandon(ctx context.Context, reason string) (focuslog.ExistingSessionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.state == Active || t.state == Paused:
		s := t.session
		elapsed := t.elapsedLocked()
		var partial float64
		if s.planned > 0 {
			partial = min(float64(elapsed)/float64(s.planned), 1)
		}
		t.appendLocked(ctx, elapsed, focuslog.SessionAbandoned{
			Reason:            reason,
			InterruptionCount: s.interruptions,
			PartialCompletion: partial,
		})
		s.final = &focuslog.Finalization{
			EndedAt:           t.endTimeLocked(elapsed),
			Duration:          elapsed,
			InterruptionCount: s.interruptions,
		}
		t.state = Abandoned
	case t.state == Abandoned:
	default:
		return focuslog.ExistingSessionRecord{}, t.transitionErr("abandon")
	}
	return t.finalizeLocked(ctx, "abandoned")
}

// Flush persists the buffered events. On failure they stay buffered.
func (t *Tracker) Flush(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(ctx)
}

// Shutdown abandons an open session, or finishes a pending finalization, so
// nothing is left only in memory.
func (t *Tracker) Shutdown(ctx context.Context) error {
	switch t.State() {
	case Active, Paused, Abandoned:
		_, err := t.Abandon(ctx, "shutdown")
		return err
	case Completed:
		_, err := t.Complete(ctx, 0)
		return err
	default:
		_, err := t.Flush(ctx)
		return err
	}
}

func (t *Tracker) record(ctx context.Context, build func(*activeSession, time.Duration) focuslog.Payload) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Idle:
		return focuslog.ErrNoActiveSession
	case Active, Paused:
	default:
		return t.transitionErr("record")
	}

	elapsed := t.elapsedLocked()
	t.appendLocked(ctx, elapsed, build(t.session, elapsed))
	return t.autoFlushLocked(ctx)
}

// elapsedLocked is whole seconds since start, never less than the last
// recorded elapsed so buffered events stay ordered if the clock steps back.
func (t *Tracker) elapsedLocked() time.Duration {
	elapsed := t.now().Sub(t.session.startedAt).Truncate(time.Second)
	return max(elapsed, t.session.lastElapsed)
}

// endTimeLocked is now, or start plus elapsed if the clock has stepped back
// behind that.
func (t *Tracker) endTimeLocked(elapsed time.Duration) time.Time {
	floor := t.session.startedAt.Add(elapsed)
	if now := t.now(); now.After(floor) {
		return now
	}
	return floor
}

func (t *Tracker) appendLocked(ctx context.Context, elapsed time.Duration, p focuslog.Payload) {
	t.session.lastElapsed = elapsed
	t.buffer = append(t.buffer, focuslog.EventRecord{
		UID:       t.newUID(),
		SessionID: t.session.id,
		Kind:      p.Kind(),
		Timestamp: t.now(),
		Elapsed:   elapsed,
		Payload:   p,
	})
	t.m.EventsRecorded.Add(ctx, 1)
	t.l.Debug("event recorded", "session", t.session.id, "kind", p.Kind(), "elapsed", elapsed, "buffered", len(t.buffer))
}

func (t *Tracker) autoFlushLocked(ctx context.Context) error {
	if len(t.buffer) < t.threshold {
		return nil
	}
	_, err := t.flushLocked(ctx)
	return err
}

func (t *Tracker) flushLocked(ctx context.Context) (int, error) {
	if len(t.buffer) == 0 {
		return 0, nil
	}
	batch := t.buffer
	n, err := t.events.InsertEvents(ctx, batch)
	if err != nil {
		t.m.ObserveFlush(ctx, 0, err)
		t.l.Error("flush failed", "buffered", len(batch), "err", err)
		return 0, &focuslog.FlushError{Buffered: len(batch), Err: err}
	}
	t.buffer = nil
	t.m.ObserveFlush(ctx, len(batch), nil)
	t.l.Debug("flushed events", "count", len(batch), "inserted", n)
	return n, nil
}

func (t *Tracker) finalizeLocked(ctx context.Context, outcome string) (focuslog.ExistingSessionRecord, error) {
	s := t.session
	batch := t.buffer

	var rec focuslog.ExistingSessionRecord
	err := t.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		if rec, err = t.sessions.FinalizeSession(ctx, s.id, *s.final); err != nil {
			return err
		}
		if len(batch) > 0 {
			if _, err := t.events.InsertEvents(ctx, batch); err != nil {
				return &focuslog.FlushError{Buffered: len(batch), Err: err}
			}
		}
		return nil
	})
	if errors.Is(err, focuslog.ErrSessionFinalized) {
		// an earlier attempt committed but reported failure; resent events
		// are deduplicated by uid
		if _, ferr := t.events.InsertEvents(ctx, batch); ferr != nil {
			err = &focuslog.FlushError{Buffered: len(batch), Err: ferr}
		} else {
			err = nil
		}
	}
	if err != nil {
		t.m.ObserveFlush(ctx, 0, err)
		if retryable(err) {
			t.l.Error("failed to finalize session", "id", s.id, "outcome", outcome, "buffered", len(batch), "err", err)
		} else {
			t.l.Error("discarding session that cannot be finalized", "id", s.id, "outcome", outcome, "dropped", len(batch), "err", err)
			t.resetLocked()
		}
		return focuslog.ExistingSessionRecord{}, fmt.Errorf("%w: session %d: %w", focuslog.ErrFinalizeFailed, s.id, err)
	}

	t.m.ObserveFlush(ctx, len(batch), nil)
	t.m.ObserveSession(ctx, outcome)
	t.l.Info("session "+outcome, "id", s.id, "interruptions", s.interruptions, "events", len(batch))

	t.resetLocked()
	return rec, nil
}

func (t *Tracker) resetLocked() {
	t.buffer = nil
	t.session = nil
	t.state = Idle
}

// retryable reports whether a failed finalization can succeed on a later
// attempt. A missing session row never comes back.
func retryable(err error) bool {
	return focuslog.IsTransient(err) && !errors.Is(err, focuslog.ErrNotFound)
}

func (t *Tracker) transitionErr(op string) error {
	if t.state == Idle {
		return fmt.Errorf("%w: cannot %s: %w", focuslog.ErrInvalidStateTransition, op, focuslog.ErrNoActiveSession)
	}
	return fmt.Errorf("%w: cannot %s while %s", focuslog.ErrInvalidStateTransition, op, t.state)
}

func milestoneName(percent int) string {
	switch percent {
	case 25:
		return "quarter"
	case 50:
		return "half"
	case 75:
		return "three_quarters"
	case 100:
		return "complete"
	default:
		return fmt.Sprintf("%d_percent", percent)
	}
}
