package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sosodev/duration"

	"github.com/JakeFAU/channel-monitor/internal/identity"
	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// resolveChannel maps a channel's external id to its internal id, creating the channel row
// from API metadata on first sight.
func (w *Worker) resolveChannel(ctx context.Context, externalID string) (int64, error) {
	return w.cache.Resolve(ctx, identity.KindChannel, externalID, func(ctx context.Context) (int64, error) {
		if id, ok, err := w.lookupStored(ctx, monitor.TableChannel, externalID); err != nil || ok {
			return id, err
		}
		_, resp, err := w.api.List(ctx, monitor.ResourceChannels, monitor.Params{
			"part": "snippet",
			"id":   externalID,
		})
		if err != nil {
			return 0, err
		}
		rec, err := w.channelRecord(externalID, resp)
		if err != nil {
			return 0, err
		}
		return w.storage.Insert(ctx, monitor.TableChannel, rec.Row())
	})
}

func (w *Worker) channelRecord(externalID string, resp *monitor.Response) (monitor.ChannelRecord, error) {
	item, ok := findItem(resp, externalID)
	if !ok || item.Snippet == nil {
		return monitor.ChannelRecord{}, &monitor.ResolutionError{
			Kind: string(identity.KindChannel), ExternalID: externalID, Reason: "no snippet returned",
		}
	}
	published, err := parseTimestamp(item.Snippet.PublishedAt, w.clock.Now().Location())
	if err != nil {
		return monitor.ChannelRecord{}, &monitor.ResolutionError{
			Kind: string(identity.KindChannel), ExternalID: externalID, Reason: err.Error(),
		}
	}
	return monitor.ChannelRecord{
		ExternalID:  externalID,
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
		PublishedAt: published,
	}, nil
}

// resolveVideo maps a video's external id to its internal id, creating the video row on
// first sight.
func (w *Worker) resolveVideo(ctx context.Context, externalID string, channelID int64) (int64, error) {
	return w.cache.Resolve(ctx, identity.KindVideo, externalID, func(ctx context.Context) (int64, error) {
		if id, ok, err := w.lookupStored(ctx, monitor.TableVideo, externalID); err != nil || ok {
			return id, err
		}
		_, resp, err := w.api.List(ctx, monitor.ResourceVideos, monitor.Params{
			"part": "snippet,contentDetails",
			"id":   externalID,
		})
		if err != nil {
			return 0, err
		}
		rec, err := w.videoRecord(externalID, channelID, resp)
		if err != nil {
			return 0, err
		}
		return w.storage.Insert(ctx, monitor.TableVideo, rec.Row())
	})
}

func (w *Worker) videoRecord(externalID string, channelID int64, resp *monitor.Response) (monitor.VideoRecord, error) {
	fail := func(reason string) (monitor.VideoRecord, error) {
		return monitor.VideoRecord{}, &monitor.ResolutionError{
			Kind: string(identity.KindVideo), ExternalID: externalID, Reason: reason,
		}
	}
	item, ok := findItem(resp, externalID)
	if !ok || item.Snippet == nil {
		return fail("no snippet returned")
	}
	published, err := parseTimestamp(item.Snippet.PublishedAt, w.clock.Now().Location())
	if err != nil {
		return fail(err.Error())
	}
	var length int64
	if item.ContentDetails != nil {
		length, err = parseLength(item.ContentDetails.Duration)
		if err != nil {
			return fail(err.Error())
		}
	}
	return monitor.VideoRecord{
		ExternalID:        externalID,
		ChannelInternalID: channelID,
		Title:             item.Snippet.Title,
		Description:       item.Snippet.Description,
		LengthSeconds:     length,
		PublishedAt:       published,
	}, nil
}

// lookupStored finds an existing row for externalID in an entity table.
func (w *Worker) lookupStored(ctx context.Context, table, externalID string) (int64, bool, error) {
	idCol := monitor.IDColumn(table)
	rows, err := w.storage.Select(ctx, table, []string{idCol}, monitor.Where{Column: "yt_id", Value: externalID})
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	id, err := monitor.Int64(rows[0][idCol])
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// uploadsPlaylist derives the uploads playlist of a channel: "UC..." becomes "UU...".
func uploadsPlaylist(channelID string) (string, error) {
	if len(channelID) < 2 {
		return "", fmt.Errorf("channel id %q too short for uploads playlist", channelID)
	}
	return "UU" + channelID[2:], nil
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.In(loc), nil
}

// parseLength converts an ISO-8601 duration such as PT4M13S into whole seconds. Empty
// durations (upcoming or live broadcasts) are zero.
func parseLength(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := duration.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return int64(d.ToTimeDuration() / time.Second), nil
}

// daysBetween counts calendar days from earlier to later in later's location.
func daysBetween(earlier, later time.Time) int {
	earlier = earlier.In(later.Location())
	y1, m1, d1 := earlier.Date()
	y2, m2, d2 := later.Date()
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	to := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func clampCount(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
