package focuslog

import (
	"context"
	"fmt"
	"time"
)

type SessionID int64

type SessionMode string

const (
	ModeFocus      SessionMode = "focus"
	ModeFreeTimer  SessionMode = "free_timer"
	ModeShortBreak SessionMode = "short_break"
	ModeLongBreak  SessionMode = "long_break"
)

// WorkModes are the modes counted as productive time by analytics.
var WorkModes = []SessionMode{ModeFocus, ModeFreeTimer}

func (m SessionMode) IsWork() bool {
	return m == ModeFocus || m == ModeFreeTimer
}

func (m SessionMode) Validate() error {
	switch m {
	case ModeFocus, ModeFreeTimer, ModeShortBreak, ModeLongBreak:
		return nil
	default:
		return fmt.Errorf("unknown session mode %q", string(m))
	}
}

type SessionRecord struct {
	StartedAt time.Time
	EndedAt   *time.Time // nil while the session is open

	//
	Planned           time.Duration
	Duration          time.Duration
	Mode              SessionMode
	TaskLabel         string
	Category          string
	Completed         bool
	InterruptionCount int
}

func (s SessionRecord) IsOpen() bool {
	return s.EndedAt == nil
}

func (s SessionRecord) Validate() error {
	if s.StartedAt.IsZero() {
		return fmt.Errorf("provide required field 'StartedAt'")
	}
	if err := s.Mode.Validate(); err != nil {
		return err
	}
	if s.Planned < 0 || s.Duration < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return fmt.Errorf("end time %s before start time %s", s.EndedAt, s.StartedAt)
	}
	return nil
}

type ExistingSessionRecord struct {
	ExistingRecord[SessionID]
	SessionRecord
}

// Finalization is the one-time update that closes a session.
type Finalization struct {
	EndedAt           time.Time
	Duration          time.Duration
	Completed         bool
	InterruptionCount int
}

type SessionRepository interface {
	InsertSession(context.Context, SessionRecord) (ExistingSessionRecord, error)
	FinalizeSession(context.Context, SessionID, Finalization) (ExistingSessionRecord, error)
	UpdateInterruptionCount(context.Context, SessionID, int) error
	GetSession(context.Context, SessionID) (ExistingSessionRecord, error)
	GetAllSessions(ctx context.Context, limit, offset int) ([]ExistingSessionRecord, error)
	GetSessionsByLabel(ctx context.Context, label string) ([]ExistingSessionRecord, error)
	GetSessionsByCategory(ctx context.Context, category string, since time.Time) ([]ExistingSessionRecord, error)
	DeleteSession(context.Context, SessionID) (ExistingSessionRecord, error)
}
