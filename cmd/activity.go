package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/usecase"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Prints the recent public activity feed",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		refresh, _ := cmd.Flags().GetBool("refresh")
		filter, _ := cmd.Flags().GetString("filter")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		snap, err := a.snapshot(ctx, refresh)
		if err != nil {
			exitf("Failed to load activity: %v", err)
		}
		now := time.Now()
		for _, ev := range usecase.FilterActivity(snap.Activity, filter, limit) {
			repo := ""
			if ev.Repo != nil {
				repo = ev.Repo.Name
			}
			fmt.Printf("%-10s %-28s %s\n", usecase.TimeAgo(ev.CreatedAt, now), usecase.DescribeEvent(ev), repo)
		}
	},
}

func init() {
	rootCmd.AddCommand(activityCmd)
	activityCmd.Flags().StringP("filter", "f", "all", "Only events whose type contains this text, e.g. Push or PullRequest")
	activityCmd.Flags().IntP("limit", "n", usecase.DefaultActivityLimit, "Maximum number of events")
}
