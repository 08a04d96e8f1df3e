package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/usecase"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Lists repositories, sorted and filtered",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		refresh, _ := cmd.Flags().GetBool("refresh")
		sortBy, _ := cmd.Flags().GetString("sort")
		query, _ := cmd.Flags().GetString("search")

		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		snap, err := a.snapshot(ctx, refresh)
		if err != nil {
			exitf("Failed to list repositories: %v", err)
		}
		repos := usecase.FilterRepositories(usecase.SortRepositories(snap.Repositories, sortBy), query)
		if err := printJSON(repos); err != nil {
			exitf("%v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(reposCmd)
	reposCmd.Flags().StringP("sort", "s", "updated", "Sort by stars, forks, updated or name")
	reposCmd.Flags().StringP("search", "q", "", "Only repositories whose name or description contains this text")
}
