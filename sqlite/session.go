// Package sqlite implements the focuslog repositories on a pooled SQLite file.
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
	SelectAllSessions = "SELECT id, start_time, end_time, duration_seconds, planned_duration, mode, task_label, category, completed, interruption_count, created_at FROM sessions"
	FinalizeSession   = "UPDATE sessions SET end_time = ?, duration_seconds = ?, completed = ?, interruption_count = ? WHERE id = ? AND end_time IS NULL"
)

type sessionEntity struct {
	ID                int64
	StartTime         string
	EndTime           sql.NullString
	DurationSeconds   int64
	PlannedSeconds    int64
	Mode              string
	TaskLabel         string
	Category          string
	Completed         bool
	InterruptionCount int
	CreatedAt         string
}

type SessionRepo struct {
	*Repository
	l *log.Logger
}

var _ focuslog.SessionRepository = (*SessionRepo)(nil)

func NewSessionRepo(repo *Repository, l *log.Logger) *SessionRepo {
	if l == nil {
		l = repo.l
	}
	return &SessionRepo{Repository: repo, l: l}
}

func (r *SessionRepo) InsertSession(ctx context.Context, session focuslog.SessionRecord) (focuslog.ExistingSessionRecord, error) {
	if err := session.Validate(); err != nil {
		return focuslog.ExistingSessionRecord{}, err
	}

	existing := focuslog.ExistingSessionRecord{SessionRecord: session}
	existing.CreatedAt = time.Now()
	e := mapToSessionEntity(existing)

	args := []any{
		e.StartTime,
		e.EndTime,
		e.DurationSeconds,
		e.PlannedSeconds,
		e.Mode,
		e.TaskLabel,
		e.Category,
		e.Completed,
		e.InterruptionCount,
		e.CreatedAt,
	}
	query := "INSERT INTO sessions (start_time, end_time, duration_seconds, planned_duration, mode, task_label, category, completed, interruption_count, created_at) VALUES " + generateParameters(len(args))
	res, err := r.RunStatement(ctx, "creating session", Stmt(query, args...))
	if err != nil {
		return focuslog.ExistingSessionRecord{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return focuslog.ExistingSessionRecord{}, &focuslog.StorageError{Op: "creating session", Err: err}
	}

	existing.ID = focuslog.SessionID(id)
	return existing, nil
}

// FinalizeSession closes an open session. A session can be finalized once;
// later calls return ErrSessionFinalized.
func (r *SessionRepo) FinalizeSession(ctx context.Context, id focuslog.SessionID, f focuslog.Finalization) (focuslog.ExistingSessionRecord, error) {
	if f.Duration < 0 || f.InterruptionCount < 0 {
		return focuslog.ExistingSessionRecord{}, fmt.Errorf("finalization values must be non-negative")
	}

	var out focuslog.ExistingSessionRecord
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := r.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if !existing.IsOpen() {
			return fmt.Errorf("session %d: %w", id, focuslog.ErrSessionFinalized)
		}
		if f.EndedAt.Before(existing.StartedAt) {
			return fmt.Errorf("end time %s before start time %s", f.EndedAt, existing.StartedAt)
		}

		endedAt := f.EndedAt
		existing.EndedAt = &endedAt
		existing.Duration = f.Duration
		existing.Completed = f.Completed
		existing.InterruptionCount = f.InterruptionCount
		e := mapToSessionEntity(existing)

		res, err := r.RunStatement(ctx, "finalizing session", Stmt(FinalizeSession,
			e.EndTime, e.DurationSeconds, e.Completed, e.InterruptionCount, e.ID,
		))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %d: %w", id, focuslog.ErrSessionFinalized)
		}
		out = existing
		return nil
	})
	if err != nil {
		return focuslog.ExistingSessionRecord{}, err
	}
	return out, nil
}

func (r *SessionRepo) UpdateInterruptionCount(ctx context.Context, id focuslog.SessionID, n int) error {
	if n < 0 {
		return fmt.Errorf("interruption count must be non-negative, got %d", n)
	}
	res, err := r.RunStatement(ctx, "updating interruption count",
		Stmt("UPDATE sessions SET interruption_count = ? WHERE id = ?", n, int64(id)))
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return focuslog.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) DeleteSession(ctx context.Context, id focuslog.SessionID) (focuslog.ExistingSessionRecord, error) {
	existing, err := r.GetSession(ctx, id)
	if err != nil {
		return focuslog.ExistingSessionRecord{}, err
	}

	// atomic_events rows go with it via ON DELETE CASCADE
	if _, err := r.RunStatement(ctx, "deleting session", Stmt("DELETE FROM sessions WHERE id = ?", int64(id))); err != nil {
		return focuslog.ExistingSessionRecord{}, err
	}
	return existing, nil
}

func (r *SessionRepo) GetSession(ctx context.Context, id focuslog.SessionID) (focuslog.ExistingSessionRecord, error) {
	if id == 0 {
		return focuslog.ExistingSessionRecord{}, fmt.Errorf("provide id")
	}

	var s focuslog.ExistingSessionRecord
	err := r.QueryRow(ctx, "getting session",
		Stmt(fmt.Sprintf("%s WHERE id = ?", SelectAllSessions), int64(id)),
		func(row Scannable) (err error) {
			s, err = extractSession(row)
			return err
		})
	return s, err
}

// GetAllSessions returns sessions newest first. limit <= 0 means no limit.
func (r *SessionRepo) GetAllSessions(ctx context.Context, limit, offset int) ([]focuslog.ExistingSessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf("%s ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?", SelectAllSessions)
	return r.getSessions(ctx, "getting all sessions", Stmt(query, limit, max(offset, 0)))
}

func (r *SessionRepo) GetSessionsByLabel(ctx context.Context, label string) ([]focuslog.ExistingSessionRecord, error) {
	query := fmt.Sprintf("%s WHERE task_label = ? ORDER BY start_time DESC, id DESC", SelectAllSessions)
	return r.getSessions(ctx, "getting sessions by label", Stmt(query, label))
}

// GetSessionsByCategory returns sessions in category started at or after
// since. A zero since matches all history.
func (r *SessionRepo) GetSessionsByCategory(ctx context.Context, category string, since time.Time) ([]focuslog.ExistingSessionRecord, error) {
	query := fmt.Sprintf("%s WHERE category = ? AND start_time >= ? ORDER BY start_time DESC, id DESC", SelectAllSessions)
	return r.getSessions(ctx, "getting sessions by category", Stmt(query, category, sinceArg(since)))
}

func (r *SessionRepo) getSessions(ctx context.Context, desc string, s Statement) ([]focuslog.ExistingSessionRecord, error) {
	var sessions []focuslog.ExistingSessionRecord
	err := r.Query(ctx, desc, s, func(row Scannable) error {
		session, err := extractSession(row)
		if err != nil {
			return err
		}
		sessions = append(sessions, session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// SessionSpans returns start and duration of sessions in modes started at or
// after since. No modes means work modes.
func (r *SessionRepo) SessionSpans(ctx context.Context, since time.Time, modes ...focuslog.SessionMode) ([]focuslog.SessionSpan, error) {
	if len(modes) == 0 {
		modes = focuslog.WorkModes
	}
	query := "SELECT start_time, duration_seconds FROM sessions WHERE start_time >= ? AND mode IN " + generateParameters(len(modes)) + " ORDER BY start_time"
	args := append([]any{sinceArg(since)}, toArgs(modes)...)
	return r.spans(ctx, "getting session spans", Stmt(query, args...))
}

// LabelSpans is SessionSpans for a single task label across all modes.
func (r *SessionRepo) LabelSpans(ctx context.Context, label string, since time.Time) ([]focuslog.SessionSpan, error) {
	query := "SELECT start_time, duration_seconds FROM sessions WHERE start_time >= ? AND task_label = ? ORDER BY start_time"
	return r.spans(ctx, "getting label spans", Stmt(query, sinceArg(since), label))
}

func (r *SessionRepo) spans(ctx context.Context, desc string, s Statement) ([]focuslog.SessionSpan, error) {
	var spans []focuslog.SessionSpan
	err := r.Query(ctx, desc, s, func(row Scannable) error {
		var (
			start string
			secs  int64
		)
		if err := row.Scan(&start, &secs); err != nil {
			return err
		}
		t, err := parseTime(start)
		if err != nil {
			return err
		}
		spans = append(spans, focuslog.SessionSpan{StartedAt: t, Duration: time.Duration(secs) * time.Second})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spans, nil
}

// InterruptionHistogram counts finalized sessions per interruption count.
func (r *SessionRepo) InterruptionHistogram(ctx context.Context, modes ...focuslog.SessionMode) ([]focuslog.InterruptionBucket, error) {
	if len(modes) == 0 {
		modes = focuslog.WorkModes
	}
	query := "SELECT interruption_count, COUNT(*) FROM sessions WHERE end_time IS NOT NULL AND mode IN " + generateParameters(len(modes)) + " GROUP BY interruption_count ORDER BY interruption_count"
	var buckets []focuslog.InterruptionBucket
	err := r.Query(ctx, "getting interruption histogram", Stmt(query, toArgs(modes)...), func(row Scannable) error {
		var b focuslog.InterruptionBucket
		if err := row.Scan(&b.Interruptions, &b.Sessions); err != nil {
			return err
		}
		buckets = append(buckets, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

// CompletionCounts splits finalized sessions in modes by completion.
func (r *SessionRepo) CompletionCounts(ctx context.Context, modes ...focuslog.SessionMode) (focuslog.CompletionCounts, error) {
	if len(modes) == 0 {
		modes = focuslog.WorkModes
	}
	query := "SELECT COALESCE(SUM(completed), 0), COALESCE(SUM(1 - completed), 0) FROM sessions WHERE end_time IS NOT NULL AND mode IN " + generateParameters(len(modes))
	var c focuslog.CompletionCounts
	err := r.QueryRow(ctx, "getting completion counts", Stmt(query, toArgs(modes)...), func(row Scannable) error {
		return row.Scan(&c.Completed, &c.Interrupted)
	})
	return c, err
}

func sinceArg(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return formatTime(since)
}

func extractSession(s Scannable) (focuslog.ExistingSessionRecord, error) {
	var e sessionEntity
	if err := s.Scan(&e.ID, &e.StartTime, &e.EndTime, &e.DurationSeconds, &e.PlannedSeconds, &e.Mode, &e.TaskLabel, &e.Category, &e.Completed, &e.InterruptionCount, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return focuslog.ExistingSessionRecord{}, focuslog.ErrNotFound
		}
		return focuslog.ExistingSessionRecord{}, err
	}

	return mapToExistingSessionRecord(e)
}

func mapToSessionEntity(session focuslog.ExistingSessionRecord) sessionEntity {
	return sessionEntity{
		ID:                int64(session.ID),
		StartTime:         formatTime(session.StartedAt),
		EndTime:           formatNullTime(session.EndedAt),
		DurationSeconds:   seconds(session.Duration),
		PlannedSeconds:    seconds(session.Planned),
		Mode:              string(session.Mode),
		TaskLabel:         session.TaskLabel,
		Category:          session.Category,
		Completed:         session.Completed,
		InterruptionCount: session.InterruptionCount,
		CreatedAt:         formatTime(session.CreatedAt),
	}
}

func mapToExistingSessionRecord(e sessionEntity) (focuslog.ExistingSessionRecord, error) {
	startedAt, err := parseTime(e.StartTime)
	if err != nil {
		return focuslog.ExistingSessionRecord{}, fmt.Errorf("session %d start_time: %w", e.ID, err)
	}
	endedAt, err := parseNullTime(e.EndTime)
	if err != nil {
		return focuslog.ExistingSessionRecord{}, fmt.Errorf("session %d end_time: %w", e.ID, err)
	}
	createdAt, _ := parseTime(e.CreatedAt)

	return focuslog.ExistingSessionRecord{
		ExistingRecord: focuslog.ExistingRecord[focuslog.SessionID]{
			ID:        focuslog.SessionID(e.ID),
			CreatedAt: createdAt,
		},
		SessionRecord: focuslog.SessionRecord{
			StartedAt:         startedAt,
			EndedAt:           endedAt,
			Planned:           time.Duration(e.PlannedSeconds) * time.Second,
			Duration:          time.Duration(e.DurationSeconds) * time.Second,
			Mode:              focuslog.SessionMode(e.Mode),
			TaskLabel:         e.TaskLabel,
			Category:          e.Category,
			Completed:         e.Completed,
			InterruptionCount: e.InterruptionCount,
		},
	}, nil
}
