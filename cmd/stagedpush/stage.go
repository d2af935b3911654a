package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/stagedpush"
	"github.com/velmie/stagedpush/internal/config"
)

func newStageCmd(flags *globalFlags) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "stage [payload-json]",
		Short: "Stage a JSON job payload (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return usageError{msg: "--count must be at least 1"}
			}

			var raw []byte
			if len(args) == 1 {
				raw = []byte(args[0])
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				raw = data
			}
			payload, err := stagedpush.UnmarshalPayload(raw)
			if err == nil {
				_, err = stagedpush.Normalize(payload, time.Now())
			}
			if err != nil {
				return usageError{msg: err.Error()}
			}

			cfg, err := config.Load(flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			st, err := openStaging(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			for i := 0; i < count; i++ {
				id, err := st.stage(cmd.Context(), payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}

			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "stage the payload this many times, each with its own jid")

	return cmd
}
