package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/velmie/stagedpush"
	"github.com/velmie/stagedpush/internal/config"
	"github.com/velmie/stagedpush/redis"
	"github.com/velmie/stagedpush/sentryhook"
)

var errNoSlot = errors.New("no free slot")

func newRelayCmd(flags *globalFlags) *cobra.Command {
	var (
		workers int
		once    bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay staged jobs until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				if workers < 1 {
					return usageError{msg: "--workers must be at least 1"}
				}
				cfg.Relay.Workers = workers
			}

			return runRelay(cmd.Context(), cfg, once)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of enqueuer workers in this process (overrides relay.workers)")
	cmd.Flags().BoolVar(&once, "once", false, "relay until the table is empty, then exit")

	return cmd
}

func runRelay(ctx context.Context, cfg *config.Config, once bool) error {
	zl, logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	reporting, flush := initSentry(cfg, zl)
	defer flush()

	st, err := openStaging(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	client, err := newRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	forwarder, closeForwarder, err := newForwarder(cfg, client)
	if err != nil {
		return err
	}
	defer closeForwarder()

	slots := redis.NewSlotStore(client)
	workerOptions := func() []stagedpush.Option {
		identity := stagedpush.NewIdentity()
		opts := append(cfg.RelayOptions(),
			stagedpush.WithIdentity(identity),
			stagedpush.WithLogger(logger),
		)
		if reporting {
			opts = append(opts, stagedpush.WithErrorHandler(sentryhook.Handler(sentry.CurrentHub(), identity)))
		}

		return opts
	}

	if once {
		count, err := drain(ctx, st.claimer, forwarder, slots, workerOptions())
		if errors.Is(err, context.Canceled) {
			zl.Info("stagedpush drain stopped", zap.Int("count", count))

			return nil
		}
		if err != nil {
			return err
		}
		zl.Info("stagedpush drained", zap.Int("count", count))

		return nil
	}

	zl.Info("stagedpush relay started",
		zap.Int("workers", cfg.Relay.Workers),
		zap.String("store", cfg.Store.Driver),
		zap.String("forwarder", cfg.Forwarder.Kind),
	)
	err = stagedpush.RunWorkers(ctx, cfg.Relay.Workers, func(int) *stagedpush.Enqueuer {
		return stagedpush.NewEnqueuer(st.claimer, forwarder, slots, workerOptions()...)
	})
	zl.Info("stagedpush relay stopped")

	return err
}

// drain relays under a single slot until a claim comes back empty. The lease
// is renewed for the whole run. A stop signal ends the drain between batches.
func drain(
	ctx context.Context,
	claimer stagedpush.Claimer,
	forwarder stagedpush.Forwarder,
	slots stagedpush.SlotStore,
	opts []stagedpush.Option,
) (total int, err error) {
	cfg := stagedpush.NewConfig(opts...)
	leaser := stagedpush.NewLeaser(slots, stagedpush.WithConfig(cfg))
	key, ok, err := leaser.Claim(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errNoSlot
	}

	keepCtx, stopKeep := context.WithCancel(ctx)
	kept := make(chan struct{})
	go func() {
		defer close(kept)
		leaser.Keep(keepCtx, key)
	}()
	defer func() {
		stopKeep()
		<-kept

		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SlotTTL)
		defer cancel()
		if _, releaseErr := leaser.Release(releaseCtx, key); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	relay := stagedpush.NewRelay(claimer, forwarder, stagedpush.WithConfig(cfg))
	work := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		count, err := relay.ProcessOnce(work)
		if err != nil {
			return total, fmt.Errorf("drain after %d jobs: %w", total, err)
		}
		if count == 0 {
			return total, nil
		}
		total += count
	}
}
