package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/benjamonnguyen/focuslog"
)

// shades from empty to hottest
var heatShades = []lipgloss.Color{"236", "22", "28", "34", "40", "46"}

var (
	heatmapDays     int
	heatmapKinds    []string
	heatmapSessions bool
)

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Day by hour heatmap of events or work minutes",
	Long: `Render a day by hour heatmap.

Examples:
  focuslog heatmap                                   # all events, last 14 days
  focuslog heatmap -k interruption_detected -d 30    # interruptions only
  focuslog heatmap --sessions                        # work minutes instead of events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			h   focuslog.Heatmap
			err error
		)
		if heatmapSessions {
			h, err = state.store.GetSessionHeatmap(ctx, heatmapDays)
		} else {
			kinds := make([]focuslog.EventKind, len(heatmapKinds))
			for i, k := range heatmapKinds {
				kinds[i] = focuslog.EventKind(k)
			}
			h, err = state.store.GetEventHeatmap(ctx, heatmapDays, kinds...)
		}
		if err != nil {
			return err
		}
		renderHeatmap(cmd.OutOrStdout(), h)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(heatmapCmd)
	heatmapCmd.Flags().IntVarP(&heatmapDays, "days", "d", 14, "Number of days")
	heatmapCmd.Flags().StringSliceVarP(&heatmapKinds, "kind", "k", nil, "Event kinds to count (default all)")
	heatmapCmd.Flags().BoolVar(&heatmapSessions, "sessions", false, "Show work minutes per hour instead of event counts")
}

func renderHeatmap(w io.Writer, h focuslog.Heatmap) {
	peak := h.Max()

	var b strings.Builder
	b.WriteString("       ")
	for hour := 0; hour < 24; hour += 3 {
		fmt.Fprintf(&b, "%-6d", hour)
	}
	b.WriteString("\n")
	for i, row := range h.Cells {
		b.WriteString(h.Labels[i])
		b.WriteString(" ")
		for _, v := range row {
			b.WriteString(lipgloss.NewStyle().Foreground(shade(v, peak)).Render("■ "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "total %d, peak %d\n", h.Total(), peak)
	fmt.Fprint(w, b.String())
}

func shade(v, peak int) lipgloss.Color {
	if v <= 0 || peak <= 0 {
		return heatShades[0]
	}
	i := 1 + (v*(len(heatShades)-2))/peak
	return heatShades[min(i, len(heatShades)-1)]
}
