package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-monitor/internal/clock/system"
	"github.com/JakeFAU/channel-monitor/internal/config"
	"github.com/JakeFAU/channel-monitor/internal/dispatcher"
	"github.com/JakeFAU/channel-monitor/internal/metrics"
	"github.com/JakeFAU/channel-monitor/internal/monitor"
	"github.com/JakeFAU/channel-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/channel-monitor/internal/retry"
	"github.com/JakeFAU/channel-monitor/internal/runstore"
	"github.com/JakeFAU/channel-monitor/internal/targets"
	"github.com/JakeFAU/channel-monitor/internal/worker"
	"github.com/JakeFAU/channel-monitor/internal/writer"
	"github.com/JakeFAU/channel-monitor/internal/youtube"
)

type collectOptions struct {
	channels []string
	listFile string
	workers  int
}

// newAPIFactory builds the per-key StatsAPI factory. Tests replace it.
var newAPIFactory = func(cfg config.Config) dispatcher.APIFactory {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.API.RequestsPerSecond,
		DefaultBurst: cfg.API.Burst,
	})
	return func(ctx context.Context, key string) (monitor.StatsAPI, error) {
		return youtube.New(ctx, youtube.Config{
			APIKey:   key,
			Endpoint: cfg.API.Endpoint,
			Limiter:  limiter,
		})
	}
}

func newCollectCmd() *cobra.Command {
	var opts collectOptions
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Runs one collection pass",
		Long: `Collects a subscriber snapshot for every target channel and view, like and
comment snapshots for its uploads inside the recency window, then advances
the run id. Targets come from --list-file or collector.list_file, then
--channel or collector.channels, and otherwise every channel already stored.

With db.provider "memory" the run is a dry run: rows are discarded on exit and
the run id file is not advanced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.channels, "channel", nil, "channel id to collect (repeatable)")
	cmd.Flags().StringVar(&opts.listFile, "list-file", "", "CSV file with a channel_id column")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "override collector.workers")
	return cmd
}

func runCollect(cmd *cobra.Command, opts collectOptions) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	if err := cfg.ValidateCollect(); err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	targetList, err := collectTargets(cfg.Collector, opts)
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Collector.Workers = opts.workers
	}

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
	}

	d := dispatcher.New(
		dispatcherConfig(cfg, targetList, logger),
		appInstance.GetStorage(),
		runstore.New(cfg.Files.RunIDFile),
		newAPIFactory(cfg),
		system.NewWithOffset(cfg.Collector.TimezoneOffset()),
		logger,
	)
	report, err := d.Run(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"run %d complete: %d/%d channels, %d videos, %d rows written, %d dropped (%s)\n",
		report.RunID, report.Channels, report.Targets, report.Videos,
		report.Writer.Written, report.Writer.Dropped, report.Duration.Round(time.Millisecond))
	if report.DryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "dry run: run id not advanced")
	}
	return nil
}

// collectTargets merges the list file and explicit channel ids. An empty result lets the
// dispatcher fall back to every stored channel.
func collectTargets(cfg config.CollectorConfig, opts collectOptions) ([]string, error) {
	listFile := opts.listFile
	if listFile == "" {
		listFile = cfg.ListFile
	}
	channels := opts.channels
	if len(channels) == 0 {
		channels = cfg.Channels
	}
	var fromFile []string
	if listFile != "" {
		ids, err := targets.LoadFile(listFile)
		if err != nil {
			return nil, err
		}
		fromFile = ids
	}
	return targets.Merge(fromFile, channels), nil
}

func dispatcherConfig(cfg config.Config, targetList []string, logger *zap.Logger) dispatcher.Config {
	writerRetry := retry.Immediate(cfg.Collector.RetryAttempts)
	if cfg.Writer.RetryBackoff > 0 {
		writerRetry = retry.Exponential(cfg.Collector.RetryAttempts, cfg.Writer.RetryBackoff, 8*cfg.Writer.RetryBackoff)
	}
	var deadLetter *writer.DeadLetter
	if cfg.Writer.DeadLetterFile != "" {
		deadLetter = writer.NewDeadLetter(cfg.Writer.DeadLetterFile)
		logger.Info("dead-letter file enabled", zap.String("path", cfg.Writer.DeadLetterFile))
	}
	return dispatcher.Config{
		Workers: cfg.Collector.Workers,
		APIKeys: cfg.API.Keys,
		Targets: targetList,
		Worker: worker.Config{
			QueueTimeout: cfg.Collector.WorkQueueTimeout,
			EmptyRetries: cfg.Collector.EmptyRetries,
			Retry:        retry.Immediate(cfg.Collector.RetryAttempts),
			RecencyDays:  cfg.Collector.RecencyDays,
			BatchLimit:   cfg.Collector.BatchLimit,
			PageSize:     cfg.Collector.PageSize,
		},
		Writer: writer.Config{
			BufferLimit: cfg.Writer.BufferLimit,
			IdleTimeout: cfg.Writer.IdleTimeout,
			Retry:       writerRetry,
			DeadLetter:  deadLetter,
		},
		WriteQueueDepth: cfg.Writer.QueueDepth,
		DryRun:          cfg.DB.Provider == config.ProviderMemory,
	}
}
