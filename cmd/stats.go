package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
)

// statsOutput is what the stats command prints.
type statsOutput struct {
	Username    string                 `json:"username"`
	User        *domain.User           `json:"user,omitempty"`
	Stats       domain.RepoStats       `json:"stats"`
	Languages   []domain.LanguageShare `json:"languages"`
	Stale       bool                   `json:"stale"`
	GeneratedAt time.Time              `json:"generated_at"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregates repository statistics and outputs as JSON",
	Long: `Fetches the user's profile and repositories through the cache and outputs
total repositories, stars, forks and the language breakdown in JSON format.
Use --full to print the complete portfolio snapshot instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		refresh, _ := cmd.Flags().GetBool("refresh")
		full, _ := cmd.Flags().GetBool("full")

		// Inject dependencies and run the main business logic.
		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		snap, err := a.snapshot(ctx, refresh)
		if err != nil {
			exitf("Failed to aggregate stats: %v", err)
		}
		if snap.Stale {
			fmt.Fprintln(os.Stderr, "Warning: GitHub was unreachable, showing cached data.")
		}

		var out any = statsOutput{
			Username:    snap.Username,
			User:        snap.User,
			Stats:       snap.Stats,
			Languages:   snap.Languages,
			Stale:       snap.Stale,
			GeneratedAt: snap.GeneratedAt,
		}
		if full {
			out = snap
		}
		if err := printJSON(out); err != nil {
			exitf("%v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("full", false, "Print the complete portfolio snapshot")
}
