// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portfolio-stats",
	Short: "A CLI tool to cache and aggregate a GitHub user's public portfolio.",
	Long: `portfolio-stats fetches a GitHub user's profile, repositories and public
events through a persistent cache, and aggregates them into repository
statistics, a 365-day contribution calendar, streaks and an activity feed.
It can also serve the results over HTTP, with an offline-capable mirror of
the portfolio site.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringP("user", "u", "", "Target GitHub user name (overrides config)")
	rootCmd.PersistentFlags().String("cache-backend", "", "Cache backend: file, memory or postgres (overrides config)")
	rootCmd.PersistentFlags().Bool("refresh", false, "Clear the cache and refetch everything before aggregating")
	rootCmd.PersistentFlags().String("cache-dir", "", "Directory of the file cache backend (overrides config)")
}
