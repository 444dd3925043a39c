package focuslog

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind-specific data carried by an event. Each EventKind has
// exactly one payload type.
type Payload interface {
	Kind() EventKind
	Validate() error
}

type SessionStarted struct {
	PlannedSeconds int64       `json:"planned_duration"`
	Mode           SessionMode `json:"session_type"`
	AppBefore      string      `json:"app_before,omitempty"`
}

type SessionResumed struct {
	AppContext string `json:"app_context,omitempty"`
}

type SessionPaused struct {
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

type SessionCompleted struct {
	ActualSeconds     int64   `json:"actual_duration"`
	PlannedSeconds    int64   `json:"planned_duration"`
	CompletedBy       string  `json:"completed_by"`
	InterruptionCount int     `json:"interruption_count"`
	CompletionRatio   float64 `json:"focus_completion_ratio"`
}

type SessionAbandoned struct {
	Reason            string  `json:"reason"`
	InterruptionCount int     `json:"interruption_count"`
	PartialCompletion float64 `json:"partial_completion"`
}

type Interruption struct {
	Reason         string   `json:"reason"`
	Severity       Severity `json:"severity"`
	Number         int      `json:"interruption_number"`
	FirstAtSeconds int64    `json:"first_interruption_at"`
	RecoveryApp    string   `json:"recovery_app,omitempty"`
}

type FocusShift struct {
	FromContext  string `json:"from_app"`
	ToContext    string `json:"to_app"`
	FocusSeconds int64  `json:"focus_duration_seconds,omitempty"`
	ShiftNumber  int    `json:"shift_number"`
}

type Distraction struct {
	Type     string   `json:"distraction_type"`
	Source   string   `json:"app_name,omitempty"`
	Severity Severity `json:"severity"`
}

type DndToggled struct {
	Enabled bool `json:"dnd_enabled"`
}

type EnvironmentChanged struct {
	Factor string `json:"factor_type"`
	Value  string `json:"value"`
}

type MilestoneReached struct {
	Milestone string `json:"milestone_type"`
	Percent   int    `json:"percentage"`
}

type BreakStarted struct {
	BreakType       string `json:"break_type"`
	DurationSeconds int64  `json:"duration,omitempty"`
}

type BreakEnded struct {
	BreakType       string `json:"break_type"`
	DurationSeconds int64  `json:"duration,omitempty"`
}

func (SessionStarted) Kind() EventKind     { return SessionStartedEvent }
func (SessionResumed) Kind() EventKind     { return SessionResumedEvent }
func (SessionPaused) Kind() EventKind      { return SessionPausedEvent }
func (SessionCompleted) Kind() EventKind   { return SessionCompletedEvent }
func (SessionAbandoned) Kind() EventKind   { return SessionAbandonedEvent }
func (Interruption) Kind() EventKind       { return InterruptionEvent }
func (FocusShift) Kind() EventKind         { return FocusShiftEvent }
func (Distraction) Kind() EventKind        { return DistractionEvent }
func (DndToggled) Kind() EventKind         { return DndToggledEvent }
func (EnvironmentChanged) Kind() EventKind { return EnvironmentEvent }
func (MilestoneReached) Kind() EventKind   { return MilestoneEvent }
func (BreakStarted) Kind() EventKind       { return BreakStartedEvent }
func (BreakEnded) Kind() EventKind         { return BreakEndedEvent }

func (p SessionStarted) Validate() error {
	if p.PlannedSeconds < 0 {
		return fmt.Errorf("%w: negative planned duration", ErrInvalidPayload)
	}
	return nil
}

func (SessionResumed) Validate() error { return nil }

func (p SessionPaused) Validate() error {
	if p.Severity == "" {
		return nil
	}
	return wrapPayloadErr(p.Severity.Validate())
}

func (p SessionCompleted) Validate() error {
	if p.ActualSeconds < 0 || p.PlannedSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidPayload)
	}
	return nil
}

func (SessionAbandoned) Validate() error { return nil }

func (p Interruption) Validate() error {
	return wrapPayloadErr(p.Severity.Validate())
}

func (FocusShift) Validate() error { return nil }

func (p Distraction) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("%w: missing distraction type", ErrInvalidPayload)
	}
	return wrapPayloadErr(p.Severity.Validate())
}

func (DndToggled) Validate() error { return nil }

func (p EnvironmentChanged) Validate() error {
	if p.Factor == "" {
		return fmt.Errorf("%w: missing environment factor", ErrInvalidPayload)
	}
	return nil
}

func (p MilestoneReached) Validate() error {
	if p.Percent < 0 || p.Percent > 100 {
		return fmt.Errorf("%w: milestone percent %d out of range", ErrInvalidPayload, p.Percent)
	}
	return nil
}

func (BreakStarted) Validate() error { return nil }
func (BreakEnded) Validate() error   { return nil }

func wrapPayloadErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
}

// EmptyPayload returns the zero payload for kind.
func EmptyPayload(kind EventKind) Payload {
	switch kind {
	case SessionStartedEvent:
		return SessionStarted{}
	case SessionResumedEvent:
		return SessionResumed{}
	case SessionPausedEvent:
		return SessionPaused{}
	case SessionCompletedEvent:
		return SessionCompleted{}
	case SessionAbandonedEvent:
		return SessionAbandoned{}
	case InterruptionEvent:
		return Interruption{}
	case FocusShiftEvent:
		return FocusShift{}
	case DistractionEvent:
		return Distraction{}
	case DndToggledEvent:
		return DndToggled{}
	case EnvironmentEvent:
		return EnvironmentChanged{}
	case MilestoneEvent:
		return MilestoneReached{}
	case BreakStartedEvent:
		return BreakStarted{}
	case BreakEndedEvent:
		return BreakEnded{}
	default:
		return nil
	}
}

func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	return json.Marshal(p)
}

// DecodePayload decodes the persisted metadata of a kind event. On failure the
// empty payload for kind is returned alongside the error.
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return EmptyPayload(kind), nil
	}

	var (
		p   Payload
		err error
	)
	switch kind {
	case SessionStartedEvent:
		p, err = decodeAs[SessionStarted](data)
	case SessionResumedEvent:
		p, err = decodeAs[SessionResumed](data)
	case SessionPausedEvent:
		p, err = decodeAs[SessionPaused](data)
	case SessionCompletedEvent:
		p, err = decodeAs[SessionCompleted](data)
	case SessionAbandonedEvent:
		p, err = decodeAs[SessionAbandoned](data)
	case InterruptionEvent:
		p, err = decodeAs[Interruption](data)
	case FocusShiftEvent:
		p, err = decodeAs[FocusShift](data)
	case DistractionEvent:
		p, err = decodeAs[Distraction](data)
	case DndToggledEvent:
		p, err = decodeAs[DndToggled](data)
	case EnvironmentEvent:
		p, err = decodeAs[EnvironmentChanged](data)
	case MilestoneEvent:
		p, err = decodeAs[MilestoneReached](data)
	case BreakStartedEvent:
		p, err = decodeAs[BreakStarted](data)
	case BreakEndedEvent:
		p, err = decodeAs[BreakEnded](data)
	}
	if err != nil {
		return EmptyPayload(kind), err
	}
	return p, nil
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}
