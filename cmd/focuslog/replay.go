package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thiht/transactor"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/benjamonnguyen/focuslog"
	"github.com/benjamonnguyen/focuslog/telemetry"
	"github.com/benjamonnguyen/focuslog/tracker"
)

// Script is a recorded session replayed through the tracker, for seeding a
// database or reproducing a report.
//
//	start: 2024-03-10T09:00:00Z
//	planned: 25m
//	mode: focus
//	label: report
//	steps:
//	  - {at: 3m, do: interruption, reason: slack, severity: medium}
//	  - {at: 6m15s, do: milestone, percent: 25}
//	  - {at: 20m, do: complete, by: user}
type Script struct {
	Start    time.Time            `yaml:"start"`
	Planned  time.Duration        `yaml:"planned"`
	Mode     focuslog.SessionMode `yaml:"mode"`
	Label    string               `yaml:"label"`
	Category string               `yaml:"category"`
	Steps    []Step               `yaml:"steps"`
}

type Step struct {
	At time.Duration `yaml:"at"`
	Do string        `yaml:"do"`

	Reason    string            `yaml:"reason"`
	Severity  focuslog.Severity `yaml:"severity"`
	From      string            `yaml:"from"`
	To        string            `yaml:"to"`
	Kind      string            `yaml:"kind"`
	Source    string            `yaml:"source"`
	Factor    string            `yaml:"factor"`
	Value     string            `yaml:"value"`
	Percent   int               `yaml:"percent"`
	Enabled   bool              `yaml:"enabled"`
	BreakType string            `yaml:"break_type"`
	Duration  time.Duration     `yaml:"duration"`
	By        string            `yaml:"by"`
}

func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse script: %w", err)
	}
	if s.Start.IsZero() {
		s.Start = time.Now()
	}
	if s.Mode == "" {
		s.Mode = focuslog.ModeFocus
	}
	if err := s.Mode.Validate(); err != nil {
		return s, err
	}
	if len(s.Steps) == 0 {
		return s, fmt.Errorf("script has no steps")
	}
	var last time.Duration
	for i, st := range s.Steps {
		if st.At < last {
			return s, fmt.Errorf("step %d at %s is before the previous step", i, st.At)
		}
		last = st.At
	}
	return s, nil
}

// scriptClock reports Start plus the offset of the step being replayed.
type scriptClock struct {
	start  time.Time
	offset time.Duration
}

func (c *scriptClock) now() time.Time { return c.start.Add(c.offset) }

// Replay drives a new tracker through the script and returns the session id.
// A script that never reaches complete or abandon is abandoned at its last
// step.
func Replay(ctx context.Context, s Script, sessions tracker.SessionStore, events tracker.EventSink, tx transactor.Transactor, opts ...tracker.Option) (focuslog.SessionID, error) {
	clock := &scriptClock{start: s.Start}
	tr := tracker.New(sessions, events, tx, append(opts, tracker.WithClock(clock.now))...)

	id, err := tr.Start(ctx, tracker.StartRequest{
		Planned:   s.Planned,
		Mode:      s.Mode,
		TaskLabel: s.Label,
		Category:  s.Category,
	})
	if err != nil {
		return 0, err
	}

	for i, st := range s.Steps {
		clock.offset = st.At
		if err := applyStep(ctx, tr, st); err != nil {
			return id, fmt.Errorf("step %d (%s): %w", i, st.Do, err)
		}
		if tr.State() == tracker.Idle {
			return id, nil
		}
	}
	if _, err := tr.Abandon(ctx, "script ended"); err != nil {
		return id, err
	}
	return id, nil
}

func applyStep(ctx context.Context, tr *tracker.Tracker, st Step) error {
	switch st.Do {
	case "interruption":
		return tr.RecordInterruption(ctx, st.Reason, st.Severity, st.Source)
	case "focus_shift":
		return tr.RecordFocusShift(ctx, st.From, st.To)
	case "distraction":
		return tr.RecordDistraction(ctx, st.Kind, st.Source, st.Severity)
	case "milestone":
		return tr.RecordMilestone(ctx, st.Percent)
	case "environment":
		return tr.RecordEnvironmentChange(ctx, st.Factor, st.Value)
	case "dnd":
		return tr.RecordDndToggle(ctx, st.Enabled)
	case "break_start":
		return tr.RecordBreak(ctx, st.BreakType, true, st.Duration)
	case "break_end":
		return tr.RecordBreak(ctx, st.BreakType, false, st.Duration)
	case "pause":
		return tr.Pause(ctx, st.Reason)
	case "resume":
		return tr.Resume(ctx, st.To)
	case "flush":
		_, err := tr.Flush(ctx)
		return err
	case "complete":
		actual := st.Duration
		if actual == 0 {
			actual = st.At
		}
		_, err := tr.CompleteBy(ctx, actual, st.By)
		return err
	case "abandon":
		_, err := tr.Abandon(ctx, st.Reason)
		return err
	default:
		return fmt.Errorf("unknown step %q", st.Do)
	}
}

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>...",
	Short: "Record sessions from YAML scripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			script, err := ParseScript(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			id, err := Replay(ctx, script, state.storage.Sessions, state.storage.Events, state.storage,
				tracker.WithFlushThreshold(state.cfg.FlushThreshold),
				tracker.WithInstruments(telemetry.Default()),
				tracker.WithLogger(log.Default().WithPrefix("tracker")),
			)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: recorded session %d\n", path, id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
