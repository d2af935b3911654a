// Command stagedpush relays jobs from a staging table to a job queue.
//
// Subcommands:
//
//	relay    run enqueuer workers until SIGINT/SIGTERM (or drain once)
//	schema   print or apply the staging table definition
//	stage    stage a JSON payload, mostly for smoke tests
//	depth    print the staging table depth
//	monitor  report depth and warn when the table stops draining
//	bench    seed the table and measure relay throughput
//
// Configuration comes from --config (YAML), --env-file and STAGEDPUSH_*
// environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const exitUsage = 2

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if isUsageError(err) {
			os.Exit(exitUsage)
		}
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "stagedpush",
		Short:         "Relay staged jobs to a job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("STAGEDPUSH_CONFIG"), "YAML config file (optional)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded when present")

	root.AddCommand(
		newRelayCmd(flags),
		newSchemaCmd(flags),
		newStageCmd(flags),
		newDepthCmd(flags),
		newMonitorCmd(flags),
		newBenchCmd(flags),
	)

	return root
}

type usageError struct {
	msg string
}

func (e usageError) Error() string {
	return e.msg
}

func isUsageError(err error) bool {
	var target usageError

	return errors.As(err, &target)
}
