package focuslog

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrStorage                = errors.New("storage error")
	ErrPoolExhausted          = errors.New("connection pool exhausted")
	ErrPoolClosed             = errors.New("connection pool closed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNoActiveSession        = errors.New("no active session")
	ErrFlushFailed            = errors.New("flush failed")
	ErrFinalizeFailed         = errors.New("session could not be finalized")
	ErrSessionFinalized       = errors.New("session already finalized")
	ErrInvalidPayload         = errors.New("invalid event payload")
)

// StorageError is returned when a statement or transaction fails against the
// backing store. Op describes the failed operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// MetadataDecodeWarning reports a single event whose payload could not be
// decoded. It is non-fatal: the event is still returned with an empty payload.
type MetadataDecodeWarning struct {
	EventID EventID
	Kind    EventKind
	Err     error
}

func (w *MetadataDecodeWarning) Error() string {
	return fmt.Sprintf("event %d (%s): undecodable metadata: %v", w.EventID, w.Kind, w.Err)
}

func (w *MetadataDecodeWarning) Unwrap() error {
	return w.Err
}

// FlushError is returned when buffered events could not be persisted. The
// buffer still holds Buffered events and the next flush retries them.
type FlushError struct {
	Buffered int
	Err      error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush of %d buffered events failed: %v", e.Buffered, e.Err)
}

func (e *FlushError) Unwrap() []error {
	return []error{ErrFlushFailed, e.Err}
}

// IsTransient reports whether err is a storage-side failure the caller may
// retry. State errors are caller bugs and never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrFlushFailed)
}
