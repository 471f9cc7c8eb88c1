// Package worker implements the collector state machine that drains the work queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-monitor/internal/identity"
	"github.com/JakeFAU/channel-monitor/internal/metrics"
	"github.com/JakeFAU/channel-monitor/internal/monitor"
	"github.com/JakeFAU/channel-monitor/internal/policy/gate"
	"github.com/JakeFAU/channel-monitor/internal/retry"
)

// Retry stages reported to metrics.
const (
	stageChannelStats = "channel_stats"
	stageVideoPage    = "video_page"
	stageVideoStats   = "video_stats"
	stagePaginate     = "paginate"
)

// Config controls Worker behavior.
type Config struct {
	ID           int
	QueueTimeout time.Duration
	EmptyRetries int
	Retry        retry.Policy
	RecencyDays  int
	BatchLimit   int
	PageSize     int
}

func (c Config) withDefaults() Config {
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 120 * time.Second
	}
	if c.EmptyRetries <= 0 {
		c.EmptyRetries = 3
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.Immediate(3)
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 50
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	return c
}

// Dependencies are the collaborators shared by every worker of a run, plus the worker's own API client.
type Dependencies struct {
	Queue    monitor.WorkQueue
	Gate     *gate.Gate
	Cache    *identity.Cache
	API      monitor.StatsAPI
	Storage  monitor.Storage
	Sink     monitor.RecordSink
	Clock    monitor.Clock
	RunID    monitor.RunID
	// RunStart anchors the recency window for the whole run. Zero means the clock's time
	// when the worker is built.
	RunStart time.Time
}

// Summary tallies what a worker did before terminating.
type Summary struct {
	Channels       int
	ChannelsFailed int
	Videos         int
}

// Worker consumes channel targets and emits snapshot records.
type Worker struct {
	queue   monitor.WorkQueue
	gate    *gate.Gate
	cache   *identity.Cache
	api     monitor.StatsAPI
	storage monitor.Storage
	sink    monitor.RecordSink
	clock   monitor.Clock
	runID   monitor.RunID
	start   time.Time
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Dependencies, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gate == nil {
		deps.Gate = gate.New()
	}
	if deps.Cache == nil {
		deps.Cache = identity.New()
	}
	cfg = cfg.withDefaults()
	if deps.RunStart.IsZero() {
		deps.RunStart = deps.Clock.Now()
	}
	return &Worker{
		queue:   deps.Queue,
		gate:    deps.Gate,
		cache:   deps.Cache,
		api:     deps.API,
		storage: deps.Storage,
		sink:    deps.Sink,
		clock:   deps.Clock,
		runID:   deps.RunID,
		start:   deps.RunStart,
		cfg:     cfg,
		logger:  logger.Named("worker").With(zap.Int("worker", cfg.ID), zap.Int64("run_id", int64(deps.RunID))),
	}
}

// Run blocks, consuming targets until the empty-queue budget is spent, the queue is closed,
// or ctx is done.
func (w *Worker) Run(ctx context.Context) Summary {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	var summary Summary
	budget := w.cfg.EmptyRetries
	for {
		target, err := w.fetchWork(ctx)
		switch {
		case err == nil:
			budget = w.cfg.EmptyRetries
		case errors.Is(err, monitor.ErrQueueEmpty):
			budget--
			if budget <= 0 {
				w.logger.Info("work queue exhausted; worker terminating", zap.Any("summary", summary))
				return summary
			}
			w.logger.Debug("work queue empty", zap.Int("retries_left", budget))
			continue
		case errors.Is(err, monitor.ErrQueueClosed):
			w.logger.Info("work queue closed; worker terminating", zap.Any("summary", summary))
			return summary
		default:
			w.logger.Warn("worker stopping", zap.Error(err))
			return summary
		}

		videos, ok := w.processChannel(ctx, target)
		if ok {
			summary.Channels++
		} else {
			summary.ChannelsFailed++
		}
		summary.Videos += videos
	}
}

func (w *Worker) fetchWork(ctx context.Context) (string, error) {
	var target string
	err := w.gate.Do(ctx, w.cfg.QueueTimeout, func() error {
		w.logger.Debug("dequeuing target", zap.Int("remaining", w.queue.Len()))
		t, err := w.queue.DequeueTimeout(ctx, w.cfg.QueueTimeout)
		if err != nil {
			return err
		}
		target = t
		return nil
	})
	return target, err
}

// processChannel runs one target through resolution, statistics and uploads. It reports the
// number of video snapshots emitted and whether the channel snapshot was produced.
func (w *Worker) processChannel(ctx context.Context, externalID string) (int, bool) {
	logger := w.logger.With(zap.String("channel_id", externalID))

	channelID, err := w.resolveChannel(ctx, externalID)
	if err != nil {
		logger.Error("resolve channel failed; abandoning target", zap.Error(err))
		metrics.ObserveChannel(metrics.OutcomeUnresolved)
		return 0, false
	}
	logger = logger.With(zap.Int64("channel_internal_id", channelID))

	snapshot, err := retry.DoValue(ctx, w.cfg.Retry, func(ctx context.Context) (monitor.ChannelSnapshot, error) {
		return w.fetchChannelStats(ctx, externalID, channelID)
	})
	if err != nil {
		logger.Error("channel statistics failed; skipping channel", zap.Error(err))
		metrics.ObserveRetryExhausted(stageChannelStats)
		metrics.ObserveChannel(metrics.OutcomeFailed)
		return 0, false
	}
	if err := w.sink.Enqueue(ctx, snapshot.Record()); err != nil {
		logger.Error("enqueue channel snapshot failed", zap.Error(err))
		metrics.ObserveChannel(metrics.OutcomeFailed)
		return 0, false
	}

	videos := w.collectUploads(ctx, logger, externalID, channelID)
	metrics.ObserveChannel(metrics.OutcomeCollected)
	logger.Info("channel collected",
		zap.Int64("subscriber_count", snapshot.SubscriberCount),
		zap.Int("videos", videos))
	return videos, true
}

func (w *Worker) fetchChannelStats(ctx context.Context, externalID string, channelID int64) (monitor.ChannelSnapshot, error) {
	_, resp, err := w.api.List(ctx, monitor.ResourceChannels, monitor.Params{
		"part": "statistics",
		"id":   externalID,
	})
	if err != nil {
		return monitor.ChannelSnapshot{}, err
	}
	item, ok := findItem(resp, externalID)
	if !ok {
		return monitor.ChannelSnapshot{}, &monitor.ResolutionError{
			Kind: string(identity.KindChannel), ExternalID: externalID, Reason: "missing from statistics response",
		}
	}
	snap := monitor.ChannelSnapshot{
		RunID:             w.runID,
		ChannelInternalID: channelID,
		CollectedAt:       w.clock.Now(),
	}
	if item.Statistics != nil {
		snap.SubscriberCount = clampCount(item.Statistics.SubscriberCount)
	}
	return snap, nil
}

type page struct {
	req  *monitor.Request
	resp *monitor.Response
}

// collectUploads walks the channel's uploads playlist newest first until the recency window
// is exceeded or pagination ends.
func (w *Worker) collectUploads(ctx context.Context, logger *zap.Logger, externalID string, channelID int64) int {
	playlistID, err := uploadsPlaylist(externalID)
	if err != nil {
		logger.Error("derive uploads playlist failed", zap.Error(err))
		return 0
	}

	current, err := retry.DoValue(ctx, w.cfg.Retry, func(ctx context.Context) (page, error) {
		req, resp, err := w.api.List(ctx, monitor.ResourcePlaylistItems, monitor.Params{
			"part":       "contentDetails",
			"playlistId": playlistID,
			"maxResults": fmt.Sprint(w.cfg.PageSize),
		})
		return page{req: req, resp: resp}, err
	})
	if err != nil {
		logger.Error("fetch uploads page failed; skipping channel videos", zap.Error(err))
		metrics.ObserveRetryExhausted(stageVideoPage)
		return 0
	}

	collected := 0
	for pageNum := 1; current.resp != nil; pageNum++ {
		refs, limitReached := w.scanPage(ctx, logger, channelID, current.resp)
		collected += w.collectVideos(ctx, logger, refs)
		if limitReached {
			logger.Debug("recency window reached", zap.Int("page", pageNum))
			break
		}
		next, err := retry.DoValue(ctx, w.cfg.Retry, func(ctx context.Context) (page, error) {
			req, resp, err := w.api.ListNext(ctx, monitor.ResourcePlaylistItems, current.req, current.resp)
			return page{req: req, resp: resp}, err
		})
		if err != nil {
			logger.Error("paginate uploads failed; stopping channel", zap.Int("page", pageNum), zap.Error(err))
			metrics.ObserveRetryExhausted(stagePaginate)
			break
		}
		if next.req == nil {
			break
		}
		current = next
	}
	return collected
}

type videoRef struct {
	externalID string
	internalID int64
}

// scanPage resolves every upload on the page that falls inside the recency window, measured
// from the run start. The second result reports that an older upload was seen and scanning
// must stop.
func (w *Worker) scanPage(ctx context.Context, logger *zap.Logger, channelID int64, resp *monitor.Response) ([]videoRef, bool) {
	now := w.start
	var refs []videoRef
	for _, item := range resp.Items {
		if item.ContentDetails == nil || item.ContentDetails.VideoID == "" {
			logger.Warn("playlist item without video id", zap.String("item_id", item.ID))
			continue
		}
		videoID := item.ContentDetails.VideoID
		published, err := parseTimestamp(item.ContentDetails.VideoPublishedAt, now.Location())
		if err != nil {
			logger.Warn("playlist item without publish date; skipping video",
				zap.String("video_id", videoID), zap.Error(err))
			continue
		}
		if daysBetween(published, now) > w.cfg.RecencyDays {
			return refs, true
		}
		id, err := w.resolveVideo(ctx, videoID, channelID)
		if err != nil {
			logger.Error("resolve video failed; skipping video", zap.String("video_id", videoID), zap.Error(err))
			continue
		}
		refs = append(refs, videoRef{externalID: videoID, internalID: id})
	}
	return refs, false
}

// collectVideos fetches statistics for refs and enqueues the snapshots. The batch is
// enqueued only after every chunk succeeded; on exhaustion the whole batch is dropped.
func (w *Worker) collectVideos(ctx context.Context, logger *zap.Logger, refs []videoRef) int {
	if len(refs) == 0 {
		return 0
	}
	snapshots, err := retry.DoValue(ctx, w.cfg.Retry, func(ctx context.Context) ([]monitor.VideoSnapshot, error) {
		return w.fetchVideoStats(ctx, logger, refs)
	})
	if err != nil {
		logger.Error("video statistics failed; dropping page batch", zap.Int("videos", len(refs)), zap.Error(err))
		metrics.ObserveRetryExhausted(stageVideoStats)
		return 0
	}
	for i, snap := range snapshots {
		if err := w.sink.Enqueue(ctx, snap.Record()); err != nil {
			logger.Error("enqueue video snapshot failed", zap.Error(err))
			metrics.ObserveVideos(i)
			return i
		}
	}
	metrics.ObserveVideos(len(snapshots))
	return len(snapshots)
}

func (w *Worker) fetchVideoStats(ctx context.Context, logger *zap.Logger, refs []videoRef) ([]monitor.VideoSnapshot, error) {
	now := w.clock.Now()
	out := make([]monitor.VideoSnapshot, 0, len(refs))
	for start := 0; start < len(refs); start += w.cfg.BatchLimit {
		chunk := refs[start:min(start+w.cfg.BatchLimit, len(refs))]
		ids := make([]string, len(chunk))
		for i, ref := range chunk {
			ids[i] = ref.externalID
		}
		_, resp, err := w.api.List(ctx, monitor.ResourceVideos, monitor.Params{
			"part": "statistics",
			"id":   strings.Join(ids, ","),
		})
		if err != nil {
			return nil, err
		}
		stats := make(map[string]*monitor.Statistics, len(resp.Items))
		for _, item := range resp.Items {
			stats[item.ID] = item.Statistics
		}
		for _, ref := range chunk {
			s, ok := stats[ref.externalID]
			if !ok {
				logger.Warn("video missing from statistics response", zap.String("video_id", ref.externalID))
				continue
			}
			snap := monitor.VideoSnapshot{RunID: w.runID, VideoInternalID: ref.internalID, CollectedAt: now}
			if s != nil {
				snap.LikeCount = clampCount(s.LikeCount)
				snap.DislikeCount = clampCount(s.DislikeCount)
				snap.ViewCount = clampCount(s.ViewCount)
				snap.CommentCount = clampCount(s.CommentCount)
			}
			out = append(out, snap)
		}
	}
	return out, nil
}

func findItem(resp *monitor.Response, externalID string) (monitor.Item, bool) {
	if resp == nil {
		return monitor.Item{}, false
	}
	for _, item := range resp.Items {
		if item.ID == externalID {
			return item, true
		}
	}
	return monitor.Item{}, false
}
