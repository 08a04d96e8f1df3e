package cmd

import (
	"context"
	"errors"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/backup"
	"github.com/naka-gawa/portfolio-stats/internal/policy"
	"github.com/naka-gawa/portfolio-stats/internal/scheduler"
	"github.com/naka-gawa/portfolio-stats/internal/server"
	"github.com/naka-gawa/portfolio-stats/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the GitHub proxy and portfolio API over HTTP",
	Long: `Starts an HTTP server exposing /api/github?path=... (a GitHub REST proxy),
/api/portfolio, /api/stats, /api/contributions, /api/repos and /api/activity.
The portfolio is refreshed in the background on the configured interval and
the admin data is backed up daily. With --origin, every other path is
mirrored from that site through the offline cache policy.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd)
		if err != nil {
			exitf("Failed to initialize: %v", err)
		}
		defer a.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.Server.Addr = addr
		}
		if origin, _ := cmd.Flags().GetString("origin"); origin != "" {
			a.cfg.Server.Origin = origin
		}

		opts := []server.Option{server.WithTimeout(a.cfg.Cache.Timeout)}
		if a.cfg.Server.Origin != "" {
			mirror, err := a.offlineTransport(ctx)
			if err != nil {
				exitf("Failed to prepare offline mirror: %v", err)
			}
			originURL, _ := url.Parse(a.cfg.Server.Origin)
			opts = append(opts, server.WithMirror(originURL, mirror))
			defer mirror.Wait()
		}

		sched := scheduler.New(a.logger)
		if err := sched.Add(scheduler.Job{
			Name:       "refresh",
			Interval:   a.cfg.Schedule.RefreshInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := a.portfolio.Refresh(ctx)
				return err
			},
		}); err != nil {
			exitf("Failed to schedule refresh: %v", err)
		}
		if a.cfg.Schedule.AutoBackup {
			backups := backup.NewManager(a.store, a.logger)
			if err := sched.Add(scheduler.Job{
				Name:     "backup",
				Interval: a.cfg.Schedule.BackupInterval,
				Run: func(ctx context.Context) error {
					_, err := backups.Create(ctx)
					if errors.Is(err, backup.ErrNothingToBackUp) {
						a.logger.Debug("No admin data yet, skipping backup")
						return nil
					}
					return err
				},
			}); err != nil {
				exitf("Failed to schedule backups: %v", err)
			}
		}
		sched.Start(ctx)
		defer sched.Stop()

		srv := server.New(a.gateway, a.portfolio, a.logger, opts...)
		if err := srv.Run(ctx, a.cfg.Server.Addr); err != nil {
			exitf("Server failed: %v", err)
		}
	},
}

// offlineTransport builds the policy transport for the mirror, installs the
// precache list and prunes entries of older cache versions.
func (a *app) offlineTransport(ctx context.Context) (*policy.Transport, error) {
	if _, err := url.ParseRequestURI(a.cfg.Server.Origin); err != nil {
		return nil, err
	}
	t := policy.NewTransport(policy.NewBaseTransport(a.cfg.Cache.Timeout), store.WithPrefix(a.store, offlinePrefix), a.logger,
		policy.WithCacheName(a.cfg.Server.CacheName))
	if len(a.cfg.Server.Precache) > 0 {
		if err := t.Precache(ctx, a.cfg.Server.Origin, a.cfg.Server.Precache); err != nil {
			a.logger.WithError(err).Warn("Precache incomplete")
		}
	}
	removed, err := t.Prune(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.WithField("removed", removed).Debug("Pruned old offline cache versions")
	return t, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides config, default :8080)")
	serveCmd.Flags().String("origin", "", "Site to mirror through the offline cache, e.g. https://dnyftetch.github.io")
}
