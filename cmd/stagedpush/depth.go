package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/stagedpush"
	"github.com/velmie/stagedpush/internal/config"
	"github.com/velmie/stagedpush/zaplog"
)

func newDepthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Print pending jobs and the age of the oldest one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			st, err := openStaging(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			stats, err := st.stats.Stats(cmd.Context())
			if err != nil {
				return err
			}
			age := stats.OldestAge(stagedpush.SystemClock{}.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "pending=%d oldest_age=%s\n", stats.Pending, age.Truncate(time.Second))

			return nil
		},
	}
}

func newMonitorCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Check staging depth periodically and warn when it stops draining",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			zl, err := zaplog.New(cfg.Log.Level, cfg.Log.Encoding)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			st, err := openStaging(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			monitor, err := stagedpush.NewMonitor(st.stats, stagedpush.MonitorConfig{
				CheckEvery: cfg.Monitor.CheckEvery,
				StallAfter: cfg.Monitor.StallAfter,
				Logger:     zaplog.Wrap(zl),
			})
			if err != nil {
				return err
			}
			if err := monitor.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return err
			}

			return nil
		},
	}
}
