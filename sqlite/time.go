package sqlite

import (
	"database/sql"
	"time"
)

// Timestamps are stored as fixed-width UTC text so lexical order is
// chronological order.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// minuteFormat matches the first 16 characters of a stored timestamp.
const minuteFormat = "2006-01-02T15:04"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
