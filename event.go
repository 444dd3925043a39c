package focuslog

import (
	"context"
	"fmt"
	"time"
)

type EventID int64

type EventKind string

const (
	SessionStartedEvent   EventKind = "session_started"
	SessionResumedEvent   EventKind = "session_resumed"
	SessionPausedEvent    EventKind = "session_paused"
	SessionCompletedEvent EventKind = "session_completed"
	SessionAbandonedEvent EventKind = "session_abandoned"
	InterruptionEvent     EventKind = "interruption_detected"
	FocusShiftEvent       EventKind = "focus_shift_detected"
	DistractionEvent      EventKind = "distraction_identified"
	DndToggledEvent       EventKind = "dnd_toggled"
	EnvironmentEvent      EventKind = "environment_changed"
	MilestoneEvent        EventKind = "milestone_reached"
	BreakStartedEvent     EventKind = "break_started"
	BreakEndedEvent       EventKind = "break_ended"
)

var EventKinds = []EventKind{
	SessionStartedEvent,
	SessionResumedEvent,
	SessionPausedEvent,
	SessionCompletedEvent,
	SessionAbandonedEvent,
	InterruptionEvent,
	FocusShiftEvent,
	DistractionEvent,
	DndToggledEvent,
	EnvironmentEvent,
	MilestoneEvent,
	BreakStartedEvent,
	BreakEndedEvent,
}

func (k EventKind) Validate() error {
	for _, known := range EventKinds {
		if k == known {
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", string(k))
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return nil
	default:
		return fmt.Errorf("unknown severity %q", string(s))
	}
}

// EventRecord is one immutable occurrence within a session. UID identifies the
// occurrence across flush retries.
type EventRecord struct {
	UID       string
	SessionID SessionID
	Kind      EventKind
	Timestamp time.Time
	Elapsed   time.Duration
	Payload   Payload
}

func (e EventRecord) Validate() error {
	if e.UID == "" || e.SessionID == 0 {
		return fmt.Errorf("provide required fields 'UID' and 'SessionID'")
	}
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if e.Elapsed < 0 {
		return fmt.Errorf("elapsed must be non-negative, got %s", e.Elapsed)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload for %s", ErrInvalidPayload, e.Kind)
	}
	if e.Payload.Kind() != e.Kind {
		return fmt.Errorf("%w: %s payload on %s event", ErrInvalidPayload, e.Payload.Kind(), e.Kind)
	}
	return e.Payload.Validate()
}

type ExistingEventRecord struct {
	ExistingRecord[EventID]
	EventRecord
}

// EventStatistics counts a session's events per kind.
type EventStatistics struct {
	Total              int
	Interruptions      int
	FocusShifts        int
	Distractions       int
	EnvironmentChanges int
	Breaks             int
	ByKind             map[EventKind]int
}

func NewEventStatistics(byKind map[EventKind]int) EventStatistics {
	s := EventStatistics{ByKind: byKind}
	if s.ByKind == nil {
		s.ByKind = make(map[EventKind]int)
	}
	for k, n := range s.ByKind {
		s.Total += n
		switch k {
		case InterruptionEvent:
			s.Interruptions += n
		case FocusShiftEvent:
			s.FocusShifts += n
		case DistractionEvent:
			s.Distractions += n
		case EnvironmentEvent:
			s.EnvironmentChanges += n
		case BreakStartedEvent, BreakEndedEvent:
			s.Breaks += n
		}
	}
	return s
}

// MinuteCount is the number of events whose timestamp falls in the UTC minute
// starting at Minute.
type MinuteCount struct {
	Minute time.Time
	Count  int
}

type EventRepository interface {
	InsertEvents(context.Context, []EventRecord) (int, error)
	GetEvents(context.Context, SessionID) ([]ExistingEventRecord, error)
	GetEventsByRange(ctx context.Context, start, end time.Time) ([]ExistingEventRecord, error)
	GetEventsByKind(context.Context, SessionID, EventKind) ([]ExistingEventRecord, error)
	GetEventStatistics(context.Context, SessionID) (EventStatistics, error)
	DeleteEventsForSession(context.Context, SessionID) (int64, error)
}
