package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects or clears the persistent API cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists cached endpoints with their age",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		entries, err := a.cache.Entries(ctx)
		if err != nil {
			exitf("Failed to list cache: %v", err)
		}
		now := time.Now()
		for _, e := range entries {
			state := "fresh"
			if now.Sub(e.FetchedAt) > a.cfg.Cache.Freshness {
				state = "expired"
			}
			fmt.Printf("%-8s %-12s %7dB  %s\n", state, now.Sub(e.FetchedAt).Truncate(time.Second), len(e.Payload), e.Key)
		}
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Removes every cached response",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		offline, _ := cmd.Flags().GetBool("offline")

		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		n, err := a.cache.Clear(ctx)
		if err != nil {
			exitf("Failed to clear cache: %v", err)
		}
		fmt.Printf("Cleared %d cached endpoints\n", n)
		if offline {
			m, err := store.Clear(ctx, a.store, offlinePrefix)
			if err != nil {
				exitf("Failed to clear offline cache: %v", err)
			}
			fmt.Printf("Cleared %d offline responses\n", m)
		}
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	cacheClearCmd.Flags().Bool("offline", false, "Also clear the offline mirror cache")
}
