package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/benjamonnguyen/focuslog"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func parseSessionID(arg string) (focuslog.SessionID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", arg)
	}
	return focuslog.SessionID(id), nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		// schema is migrated when the store opens
		fmt.Fprintf(cmd.OutOrStdout(), "database ready at %s\n", state.cfg.StoragePath)
		return nil
	},
}

var (
	sessionsLimit    int
	sessionsOffset   int
	sessionsLabel    string
	sessionsCategory string
	sessionsDays     int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Long: `List recorded sessions, newest first.

Examples:
  focuslog sessions                        # last 20 sessions
  focuslog sessions --label report         # sessions for one task
  focuslog sessions --category work --days 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			sessions []focuslog.ExistingSessionRecord
			err      error
		)
		switch {
		case sessionsLabel != "":
			sessions, err = state.store.GetSessionsByLabel(ctx, sessionsLabel)
		case sessionsCategory != "":
			var since time.Time
			if sessionsDays > 0 {
				since = time.Now().AddDate(0, 0, -sessionsDays)
			}
			sessions, err = state.store.GetSessionsByCategory(ctx, sessionsCategory, since)
		default:
			sessions, err = state.store.GetAllSessions(ctx, sessionsLimit, sessionsOffset)
		}
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found")
			return nil
		}

		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			status := "open"
			switch {
			case s.Completed:
				status = "completed"
			case !s.IsOpen():
				status = "interrupted"
			}
			rows = append(rows, []string{
				strconv.FormatInt(int64(s.ID), 10),
				s.StartedAt.Local().Format("2006-01-02 15:04"),
				string(s.Mode),
				s.TaskLabel,
				s.Duration.String(),
				s.Planned.String(),
				strconv.Itoa(s.InterruptionCount),
				status,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "STARTED", "MODE", "LABEL", "DURATION", "PLANNED", "INT", "STATUS"}, rows))
		return nil
	},
}

var eventsKind string

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show a session's event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		var events []focuslog.ExistingEventRecord
		if eventsKind != "" {
			events, err = state.store.GetEventsByKind(ctx, id, focuslog.EventKind(eventsKind))
		} else {
			events, err = state.store.GetEvents(ctx, id)
		}
		if err != nil {
			if !focuslog.OnlyWarnings(err) {
				return err
			}
			log.Warn("some events have undecodable metadata", "err", err)
		}

		rows := make([][]string, 0, len(events))
		for _, e := range events {
			data, _ := focuslog.EncodePayload(e.Payload)
			rows = append(rows, []string{
				strconv.FormatInt(int64(e.ID), 10),
				e.Elapsed.String(),
				e.Timestamp.Local().Format(time.TimeOnly),
				string(e.Kind),
				string(data),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "ELAPSED", "AT", "KIND", "METADATA"}, rows))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Summarize a session's events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		session, err := state.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		stats, err := state.store.GetEventStatistics(ctx, id)
		if err != nil {
			return err
		}
		pattern, err := state.store.GetInterruptionPattern(ctx, id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %d (%s, %s) %s of %s\n", session.ID, session.Mode, session.TaskLabel, session.Duration, session.Planned)
		fmt.Fprintf(out, "events: %d  interruptions: %d  focus shifts: %d  distractions: %d  environment: %d  breaks: %d\n",
			stats.Total, stats.Interruptions, stats.FocusShifts, stats.Distractions, stats.EnvironmentChanges, stats.Breaks)
		if pattern.Total > 0 {
			fmt.Fprintf(out, "interruption phases: early %d  middle %d  late %d\n", pattern.Early, pattern.Middle, pattern.Late)
			fmt.Fprintf(out, "first at %s", *pattern.FirstAt)
			if pattern.MeanGap != nil {
				fmt.Fprintf(out, ", mean gap %s", *pattern.MeanGap)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <session-id>",
	Short: "Delete a session and all of its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		n, err := state.store.PurgeSession(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged session %d and %d events\n", id, n)
		return nil
	},
}

var (
	trendDays  int
	trendLabel string
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Daily work minutes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			days []focuslog.DayValue
			err  error
		)
		if trendLabel != "" {
			days, err = state.store.GetDailyTrendByLabel(ctx, trendLabel, trendDays)
		} else {
			days, err = state.store.GetDailyTrend(ctx, trendDays)
		}
		if err != nil {
			return err
		}
		var peak int64
		for _, d := range days {
			peak = max(peak, d.Minutes)
		}
		for _, d := range days {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %4dm %s\n", d.Label, d.Minutes, bar(d.Minutes, peak, 40))
		}
		return nil
	},
}

var hourlyDays int

var hourlyCmd = &cobra.Command{
	Use:   "hourly",
	Short: "Work minutes by hour of day",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if hourlyDays > 0 {
			since = time.Now().AddDate(0, 0, -hourlyDays)
		}
		dist, err := state.store.GetHourlyProductivity(cmd.Context(), since)
		if err != nil {
			return err
		}
		var peak int64
		for _, m := range dist {
			peak = max(peak, m)
		}
		for h, m := range dist {
			fmt.Fprintf(cmd.OutOrStdout(), "%02d:00 %4dm %s\n", h, m, bar(m, peak, 40))
		}
		return nil
	},
}

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Focus quality and completion rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		q, err := state.store.GetFocusQualityStats(ctx)
		if err != nil {
			return err
		}
		c, err := state.store.GetCompletionRate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"CLUSTER", "SESSIONS", "SHARE"},
			[][]string{
				{string(focuslog.DeepWork), strconv.Itoa(q.DeepWork), percent(q.DeepWork, q.Total())},
				{string(focuslog.Moderate), strconv.Itoa(q.Moderate), percent(q.Moderate, q.Total())},
				{string(focuslog.Distracted), strconv.Itoa(q.Distracted), percent(q.Distracted, q.Total())},
			}))
		fmt.Fprintf(cmd.OutOrStdout(), "completed %d, interrupted %d (%s)\n",
			c.Completed, c.Interrupted, percent(c.Completed, c.Completed+c.Interrupted))
		return nil
	},
}

func percent(n, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", float64(n)*100/float64(total))
}

func bar(v, peak int64, width int) string {
	if peak <= 0 || v <= 0 {
		return ""
	}
	return strings.Repeat("█", max(int(v*int64(width)/peak), 1))
}

var settingsCmd = &cobra.Command{
	Use:   "settings [key] [value]",
	Short: "Show or change stored settings",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			all, err := state.store.LoadSettings(ctx)
			if err != nil {
				return err
			}
			for k, v := range all {
				fmt.Fprintf(out, "%s=%s\n", k, v)
			}
		case 1:
			v, err := state.store.GetSetting(ctx, args[0], "")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, v)
		default:
			if args[1] == "" {
				return state.store.DeleteSetting(ctx, args[0])
			}
			return state.store.SaveSetting(ctx, args[0], args[1])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd, sessionsCmd, eventsCmd, statsCmd, purgeCmd, trendCmd, hourlyCmd, qualityCmd, settingsCmd)

	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Number of sessions to show")
	sessionsCmd.Flags().IntVar(&sessionsOffset, "offset", 0, "Sessions to skip")
	sessionsCmd.Flags().StringVarP(&sessionsLabel, "label", "l", "", "Filter by task label")
	sessionsCmd.Flags().StringVar(&sessionsCategory, "category", "", "Filter by category")
	sessionsCmd.Flags().IntVar(&sessionsDays, "days", 0, "With --category, only the last N days")

	eventsCmd.Flags().StringVarP(&eventsKind, "kind", "k", "", "Only events of this kind")

	trendCmd.Flags().IntVarP(&trendDays, "days", "d", 7, "Number of days")
	trendCmd.Flags().StringVarP(&trendLabel, "label", "l", "", "Only sessions with this task label")

	hourlyCmd.Flags().IntVarP(&hourlyDays, "days", "d", 0, "Only the last N days (0 for all history)")
}
