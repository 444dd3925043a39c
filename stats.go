package focuslog

import (
	"errors"
	"time"
)

// SessionSpan is the raw input for time-bucketed analytics.
type SessionSpan struct {
	StartedAt time.Time
	Duration  time.Duration
}

// InterruptionBucket counts sessions sharing an interruption count.
type InterruptionBucket struct {
	Interruptions int
	Sessions      int
}

type CompletionCounts struct {
	Completed   int
	Interrupted int
}

// DayValue is one entry of a gap-filled daily series.
type DayValue struct {
	Day     time.Time // local midnight
	Label   string
	Seconds int64
	Minutes int64
}

// HourlyDistribution holds minutes per local hour of day.
type HourlyDistribution [24]int64

type QualityCluster string

const (
	DeepWork   QualityCluster = "deep_work"
	Moderate   QualityCluster = "moderate"
	Distracted QualityCluster = "distracted"
)

// ClusterFor maps an interruption count onto its quality cluster:
// 0 is deep work, 1-2 moderate, 3+ distracted.
func ClusterFor(interruptions int) QualityCluster {
	switch {
	case interruptions <= 0:
		return DeepWork
	case interruptions <= 2:
		return Moderate
	default:
		return Distracted
	}
}

type QualityClusters struct {
	DeepWork   int
	Moderate   int
	Distracted int
}

func (q QualityClusters) Total() int {
	return q.DeepWork + q.Moderate + q.Distracted
}

// Heatmap is a dense day by hour matrix. Cells[i] belongs to Days[i].
type Heatmap struct {
	Days   []time.Time
	Labels []string
	Cells  [][24]int
}

func (h Heatmap) Total() int {
	var n int
	for _, row := range h.Cells {
		for _, c := range row {
			n += c
		}
	}
	return n
}

func (h Heatmap) Max() int {
	var m int
	for _, row := range h.Cells {
		for _, c := range row {
			m = max(m, c)
		}
	}
	return m
}

// InterruptionPattern summarizes when and how badly a session was interrupted.
type InterruptionPattern struct {
	Total    int
	FirstAt  *time.Duration
	Early    int // before 33% of the planned duration
	Middle   int
	Late     int // from 66% on
	Severity map[Severity]int
	MeanGap  *time.Duration
}

// OnlyWarnings reports whether err consists solely of MetadataDecodeWarnings,
// meaning the accompanying result is usable.
func OnlyWarnings(err error) bool {
	if err == nil {
		return true
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !OnlyWarnings(e) {
				return false
			}
		}
		return true
	}
	var w *MetadataDecodeWarning
	return errors.As(err, &w)
}
