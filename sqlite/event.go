package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/benjamonnguyen/focuslog"
)

const (
	SelectAllEvents = "SELECT id, uid, session_id, event_type, timestamp, elapsed_seconds, metadata, created_at FROM atomic_events"
	// duplicate uids from a retried flush are dropped
	InsertEvent = "INSERT OR IGNORE INTO atomic_events (uid, session_id, event_type, timestamp, elapsed_seconds, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"
)

type eventEntity struct {
	ID             int64
	UID            string
	SessionID      int64
	EventType      string
	Timestamp      string
	ElapsedSeconds int64
	Metadata       sql.NullString
	CreatedAt      string
}

type EventRepo struct {
	*Repository
	l *log.Logger
}

var _ focuslog.EventRepository = (*EventRepo)(nil)

func NewEventRepo(repo *Repository, l *log.Logger) *EventRepo {
	if l == nil {
		l = repo.l
	}
	return &EventRepo{Repository: repo, l: l}
}

// InsertEvents persists events atomically and returns how many were new.
// Events already stored under the same UID are skipped.
func (r *EventRepo) InsertEvents(ctx context.Context, events []focuslog.EventRecord) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	createdAt := formatTime(time.Now())
	ops := make([]Statement, 0, len(events))
	for i, event := range events {
		if err := event.Validate(); err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
		e, err := mapToEventEntity(event)
		if err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
		ops = append(ops, Stmt(InsertEvent,
			e.UID, e.SessionID, e.EventType, e.Timestamp, e.ElapsedSeconds, e.Metadata, createdAt,
		))
	}

	n, err := r.RunTransaction(ctx, "inserting events", ops)
	if err != nil {
		return 0, err
	}
	if skipped := len(events) - int(n); skipped > 0 {
		r.l.Debug("skipped already stored events", "count", skipped)
	}
	return int(n), nil
}

// GetEvents returns a session's events in elapsed order. Events whose metadata
// cannot be decoded are returned with an empty payload, and the returned error
// then joins one MetadataDecodeWarning per such event.
func (r *EventRepo) GetEvents(ctx context.Context, id focuslog.SessionID) ([]focuslog.ExistingEventRecord, error) {
	query := fmt.Sprintf("%s WHERE session_id = ? ORDER BY elapsed_seconds, id", SelectAllEvents)
	return r.getEvents(ctx, "getting events", Stmt(query, int64(id)))
}

// GetEventsByRange returns events with start <= timestamp <= end across all
// sessions, in timestamp order.
func (r *EventRepo) GetEventsByRange(ctx context.Context, start, end time.Time) ([]focuslog.ExistingEventRecord, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("range end %s before start %s", end, start)
	}
	query := fmt.Sprintf("%s WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id", SelectAllEvents)
	return r.getEvents(ctx, "getting events by range", Stmt(query, formatTime(start), formatTime(end)))
}

func (r *EventRepo) GetEventsByKind(ctx context.Context, id focuslog.SessionID, kind focuslog.EventKind) ([]focuslog.ExistingEventRecord, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("%s WHERE session_id = ? AND event_type = ? ORDER BY elapsed_seconds, id", SelectAllEvents)
	return r.getEvents(ctx, "getting events by kind", Stmt(query, int64(id), string(kind)))
}

func (r *EventRepo) getEvents(ctx context.Context, desc string, s Statement) ([]focuslog.ExistingEventRecord, error) {
	var (
		events   []focuslog.ExistingEventRecord
		warnings []error
	)
	err := r.Query(ctx, desc, s, func(row Scannable) error {
		event, err := extractEvent(row)
		var warn *focuslog.MetadataDecodeWarning
		if errors.As(err, &warn) {
			r.l.Warn("undecodable event metadata", "eventID", warn.EventID, "kind", warn.Kind, "err", warn.Err)
			warnings = append(warnings, warn)
		} else if err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, errors.Join(warnings...)
}

func (r *EventRepo) GetEventStatistics(ctx context.Context, id focuslog.SessionID) (focuslog.EventStatistics, error) {
	byKind := make(map[focuslog.EventKind]int)
	err := r.Query(ctx, "getting event statistics",
		Stmt("SELECT event_type, COUNT(*) FROM atomic_events WHERE session_id = ? GROUP BY event_type", int64(id)),
		func(row Scannable) error {
			var (
				kind string
				n    int
			)
			if err := row.Scan(&kind, &n); err != nil {
				return err
			}
			byKind[focuslog.EventKind(kind)] = n
			return nil
		})
	if err != nil {
		return focuslog.EventStatistics{}, err
	}
	return focuslog.NewEventStatistics(byKind), nil
}

func (r *EventRepo) DeleteEventsForSession(ctx context.Context, id focuslog.SessionID) (int64, error) {
	res, err := r.RunStatement(ctx, "deleting session events", Stmt("DELETE FROM atomic_events WHERE session_id = ?", int64(id)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteEventsByRange removes events with start <= timestamp <= end.
func (r *EventRepo) DeleteEventsByRange(ctx context.Context, start, end time.Time) (int64, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("range end %s before start %s", end, start)
	}
	res, err := r.RunStatement(ctx, "deleting events by range",
		Stmt("DELETE FROM atomic_events WHERE timestamp >= ? AND timestamp <= ?", formatTime(start), formatTime(end)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountEventsByMinute aggregates events at or after since into UTC minutes.
// No kinds means all kinds.
func (r *EventRepo) CountEventsByMinute(ctx context.Context, since time.Time, kinds ...focuslog.EventKind) ([]focuslog.MinuteCount, error) {
	query := "SELECT substr(timestamp, 1, 16) AS minute, COUNT(*) FROM atomic_events WHERE timestamp >= ?"
	args := []any{sinceArg(since)}
	if len(kinds) > 0 {
		query += " AND event_type IN " + generateParameters(len(kinds))
		args = append(args, toArgs(kinds)...)
	}
	query += " GROUP BY minute ORDER BY minute"

	var counts []focuslog.MinuteCount
	err := r.Query(ctx, "counting events by minute", Stmt(query, args...), func(row Scannable) error {
		var (
			minute string
			n      int
		)
		if err := row.Scan(&minute, &n); err != nil {
			return err
		}
		t, err := time.Parse(minuteFormat, minute)
		if err != nil {
			return err
		}
		counts = append(counts, focuslog.MinuteCount{Minute: t, Count: n})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// extractEvent scans one row. A MetadataDecodeWarning comes back together
// with a usable record.
func extractEvent(s Scannable) (focuslog.ExistingEventRecord, error) {
	var e eventEntity
	if err := s.Scan(&e.ID, &e.UID, &e.SessionID, &e.EventType, &e.Timestamp, &e.ElapsedSeconds, &e.Metadata, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return focuslog.ExistingEventRecord{}, focuslog.ErrNotFound
		}
		return focuslog.ExistingEventRecord{}, err
	}

	return mapToExistingEventRecord(e)
}

func mapToEventEntity(event focuslog.EventRecord) (eventEntity, error) {
	data, err := focuslog.EncodePayload(event.Payload)
	if err != nil {
		return eventEntity{}, err
	}
	return eventEntity{
		UID:            event.UID,
		SessionID:      int64(event.SessionID),
		EventType:      string(event.Kind),
		Timestamp:      formatTime(event.Timestamp),
		ElapsedSeconds: seconds(event.Elapsed),
		Metadata:       sql.NullString{String: string(data), Valid: true},
	}, nil
}

func mapToExistingEventRecord(e eventEntity) (focuslog.ExistingEventRecord, error) {
	ts, err := parseTime(e.Timestamp)
	if err != nil {
		return focuslog.ExistingEventRecord{}, fmt.Errorf("event %d timestamp: %w", e.ID, err)
	}
	createdAt, _ := parseTime(e.CreatedAt)

	kind := focuslog.EventKind(e.EventType)
	record := focuslog.ExistingEventRecord{
		ExistingRecord: focuslog.ExistingRecord[focuslog.EventID]{
			ID:        focuslog.EventID(e.ID),
			CreatedAt: createdAt,
		},
		EventRecord: focuslog.EventRecord{
			UID:       e.UID,
			SessionID: focuslog.SessionID(e.SessionID),
			Kind:      kind,
			Timestamp: ts,
			Elapsed:   time.Duration(e.ElapsedSeconds) * time.Second,
		},
	}

	payload, err := focuslog.DecodePayload(kind, []byte(e.Metadata.String))
	record.Payload = payload
	if err != nil {
		return record, &focuslog.MetadataDecodeWarning{EventID: record.ID, Kind: kind, Err: err}
	}
	return record, nil
}
