package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
	"github.com/JakeFAU/channel-monitor/internal/queue/memory"
	"github.com/JakeFAU/channel-monitor/internal/retry"
	"github.com/JakeFAU/channel-monitor/internal/writer"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dead-letter-file>",
		Short: "Re-inserts rows previously written to a dead-letter file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records, err := writer.ReadDeadLetter(args[0])
			if err != nil {
				return err
			}
			cfg := appInstance.GetConfig()

			q := memory.NewQueue[monitor.PersistenceRecord](len(records) + 1)
			for _, rec := range records {
				if err := q.Enqueue(cmd.Context(), rec); err != nil {
					return fmt.Errorf("queue dead-letter record: %w", err)
				}
			}
			q.Close()

			stats := writer.New(q, appInstance.GetStorage(), writer.Config{
				BufferLimit: cfg.Writer.BufferLimit,
				IdleTimeout: cfg.Writer.IdleTimeout,
				Retry:       retry.Immediate(cfg.Collector.RetryAttempts),
			}, appInstance.GetLogger()).Run(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d records: %d written, %d dropped\n",
				len(records), stats.Written, stats.Dropped)
			if stats.Dropped > 0 {
				return fmt.Errorf("%d records could not be written", stats.Dropped)
			}
			return nil
		},
	}
}
