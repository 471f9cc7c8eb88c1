// Package dispatcher runs one collection pass: it fans channel targets out to a pool of
// workers and drains their output through a single writer.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	idgen "github.com/JakeFAU/channel-monitor/internal/id/uuid"
	"github.com/JakeFAU/channel-monitor/internal/identity"
	"github.com/JakeFAU/channel-monitor/internal/monitor"
	"github.com/JakeFAU/channel-monitor/internal/policy/gate"
	"github.com/JakeFAU/channel-monitor/internal/queue/memory"
	"github.com/JakeFAU/channel-monitor/internal/worker"
	"github.com/JakeFAU/channel-monitor/internal/writer"
)

const defaultWriteQueueDepth = 4096

// ErrNoTargets is returned when neither configuration nor storage yields a channel to collect.
var ErrNoTargets = errors.New("no channel targets")

// APIFactory builds the StatsAPI a worker uses for the given API key.
type APIFactory func(ctx context.Context, key string) (monitor.StatsAPI, error)

// IDGenerator mints execution ids.
type IDGenerator interface {
	NewID() (string, error)
}

// RunCounter persists the run id between executions.
type RunCounter interface {
	Load() (monitor.RunID, error)
	Advance(current monitor.RunID) error
}

// Config controls a collection run.
type Config struct {
	Workers         int
	APIKeys         []string
	Targets         []string
	Worker          worker.Config
	Writer          writer.Config
	WriteQueueDepth int
	// DryRun collects as usual but leaves the persisted run id untouched.
	DryRun bool
}

// Report summarizes a finished run.
type Report struct {
	ExecutionID    string
	RunID          monitor.RunID
	DryRun         bool
	Targets        int
	Channels       int
	ChannelsFailed int
	Videos         int
	Writer         writer.Stats
	Duration       time.Duration
}

// Dispatcher wires queues, workers and the writer for a run.
type Dispatcher struct {
	cfg     Config
	storage monitor.Storage
	runs    RunCounter
	newAPI  APIFactory
	clock   monitor.Clock
	ids     IDGenerator
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	cfg Config,
	storage monitor.Storage,
	runs RunCounter,
	newAPI APIFactory,
	clock monitor.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	cfg.APIKeys = usableKeys(cfg.APIKeys)
	if cfg.WriteQueueDepth <= 0 {
		cfg.WriteQueueDepth = defaultWriteQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		storage: storage,
		runs:    runs,
		newAPI:  newAPI,
		clock:   clock,
		ids:     idgen.New(),
		logger:  logger.Named("dispatcher"),
	}
}

// Run executes one collection pass and advances the run id when it completes. Startup
// failures abort before any worker starts; a canceled ctx leaves the run id untouched.
func (d *Dispatcher) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{DryRun: d.cfg.DryRun}
	execID, err := d.ids.NewID()
	if err != nil {
		return report, err
	}
	report.ExecutionID = execID
	logger := d.logger.With(zap.String("execution_id", execID))

	if len(d.cfg.APIKeys) == 0 {
		return report, errors.New("at least one api key is required")
	}
	runID, err := d.runs.Load()
	if err != nil {
		return report, fmt.Errorf("load run id: %w", err)
	}
	report.RunID = runID
	logger = logger.With(zap.Int64("run_id", int64(runID)))

	cache := identity.New()
	if err := cache.Preload(ctx, d.storage); err != nil {
		logger.Warn("identity preload failed; continuing with an empty cache", zap.Error(err))
	}
	logger.Info("identity cache loaded",
		zap.Int("channels", cache.Len(identity.KindChannel)),
		zap.Int("videos", cache.Len(identity.KindVideo)))

	targets := d.cfg.Targets
	if len(targets) == 0 {
		targets = cache.ExternalIDs(identity.KindChannel)
		logger.Info("no configured targets; collecting every known channel", zap.Int("targets", len(targets)))
	}
	if len(targets) == 0 {
		return report, ErrNoTargets
	}
	report.Targets = len(targets)

	work := memory.NewQueue[string](len(targets))
	for _, target := range targets {
		if err := work.Enqueue(ctx, target); err != nil {
			return report, fmt.Errorf("enqueue target %s: %w", target, err)
		}
	}
	writeQueue := memory.NewQueue[monitor.PersistenceRecord](d.cfg.WriteQueueDepth)

	workers, err := d.buildWorkers(ctx, runID, work, writeQueue, cache, logger)
	if err != nil {
		return report, err
	}

	wr := writer.New(writeQueue, d.storage, d.cfg.Writer, logger)
	workersDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		runWriter(ctx, wr, workersDone, logger)
	}()

	logger.Info("collection started", zap.Int("workers", len(workers)), zap.Int("targets", len(targets)))
	summaries := make([]worker.Summary, len(workers))
	var g errgroup.Group
	for i, w := range workers {
		g.Go(func() error {
			summaries[i] = w.Run(ctx)
			return ctx.Err()
		})
	}
	runErr := g.Wait()

	close(workersDone)
	writeQueue.Close()
	<-writerDone
	// Records left behind by a writer that stopped on cancellation or on its last idle
	// timeout are flushed here.
	report.Writer = wr.Run(context.WithoutCancel(ctx))

	for _, s := range summaries {
		report.Channels += s.Channels
		report.ChannelsFailed += s.ChannelsFailed
		report.Videos += s.Videos
	}
	report.Duration = time.Since(started)

	if runErr != nil {
		logger.Warn("collection interrupted; run id not advanced", zap.Error(runErr))
		return report, fmt.Errorf("run %d interrupted: %w", runID, runErr)
	}
	if d.cfg.DryRun {
		logger.Info("dry run; run id not advanced")
	} else if err := d.runs.Advance(runID); err != nil {
		return report, fmt.Errorf("advance run id: %w", err)
	}
	logger.Info("collection finished",
		zap.Int("channels", report.Channels),
		zap.Int("channels_failed", report.ChannelsFailed),
		zap.Int("videos", report.Videos),
		zap.Int("rows_written", report.Writer.Written),
		zap.Int("rows_dropped", report.Writer.Dropped),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// usableKeys drops blank keys so the round-robin never hands one to a worker.
func usableKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// runWriter keeps the writer consuming until every worker has returned. The writer stops on
// its own idle timeout; while workers are alive it is restarted so producers never block on a
// full write queue with nobody draining it.
func runWriter(ctx context.Context, wr *writer.Writer, workersDone <-chan struct{}, logger *zap.Logger) {
	for {
		wr.Run(ctx)
		select {
		case <-workersDone:
			return
		case <-ctx.Done():
			return
		default:
			logger.Debug("writer idled while workers are still running; resuming")
		}
	}
}

func (d *Dispatcher) buildWorkers(
	ctx context.Context,
	runID monitor.RunID,
	work *memory.Queue[string],
	sink *memory.Queue[monitor.PersistenceRecord],
	cache *identity.Cache,
	logger *zap.Logger,
) ([]*worker.Worker, error) {
	shared := gate.New()
	runStart := d.clock.Now()
	workers := make([]*worker.Worker, 0, d.cfg.Workers)
	for i := range d.cfg.Workers {
		key := d.cfg.APIKeys[i%len(d.cfg.APIKeys)]
		api, err := d.newAPI(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("build api client for worker %d: %w", i, err)
		}
		cfg := d.cfg.Worker
		cfg.ID = i
		workers = append(workers, worker.New(cfg, worker.Dependencies{
			Queue:    work,
			Gate:     shared,
			Cache:    cache,
			API:      api,
			Storage:  d.storage,
			Sink:     sink,
			Clock:    d.clock,
			RunID:    runID,
			RunStart: runStart,
		}, logger))
	}
	return workers, nil
}
