package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
)

type contributionsOutput struct {
	Contributions domain.ContributionStats `json:"contributions"`
	Calendar      []domain.ContributionDay `json:"calendar,omitempty"`
}

var contributionsCmd = &cobra.Command{
	Use:   "contributions",
	Short: "Outputs the 365-day contribution calendar and streaks",
	Long: `Builds the contribution calendar for the last 365 days (from the public
event feed, or the GraphQL contribution calendar when contribution_source is
graphql) and outputs streaks and activity counters as JSON. With --graph a
compact text heatmap is printed instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		refresh, _ := cmd.Flags().GetBool("refresh")
		withCalendar, _ := cmd.Flags().GetBool("calendar")
		graph, _ := cmd.Flags().GetBool("graph")

		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		snap, err := a.snapshot(ctx, refresh)
		if err != nil {
			exitf("Failed to build contributions: %v", err)
		}

		if graph {
			fmt.Print(renderCalendar(snap.Calendar))
			fmt.Printf("%d contributions, current streak %d, longest streak %d\n",
				snap.Contributions.TotalContributions, snap.Contributions.CurrentStreak, snap.Contributions.LongestStreak)
			return
		}
		out := contributionsOutput{Contributions: snap.Contributions}
		if withCalendar {
			out.Calendar = snap.Calendar
		}
		if err := printJSON(out); err != nil {
			exitf("%v", err)
		}
	},
}

var levelGlyphs = []rune{'.', '░', '▒', '▓', '█'}

// renderCalendar draws the calendar as seven rows, one column per week.
func renderCalendar(calendar []domain.ContributionDay) string {
	rows := make([]strings.Builder, 7)
	for i, day := range calendar {
		level := day.Level
		if level < 0 || level >= len(levelGlyphs) {
			level = 0
		}
		rows[i%7].WriteRune(levelGlyphs[level])
	}
	var b strings.Builder
	for i := range rows {
		b.WriteString(rows[i].String())
		b.WriteByte('\n')
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(contributionsCmd)
	contributionsCmd.Flags().Bool("calendar", false, "Include every day of the calendar in the output")
	contributionsCmd.Flags().Bool("graph", false, "Print a text heatmap instead of JSON")
}
