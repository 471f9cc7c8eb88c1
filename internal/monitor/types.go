package monitor

import (
	"fmt"
	"strconv"
	"time"
)

// Destination tables.
const (
	TableChannel        = "channel"
	TableVideo          = "video"
	TableCollectChannel = "collect_channel"
	TableCollectVideo   = "collect_video"
)

// Schema lists the columns each table accepts on insert.
var Schema = map[string][]string{
	TableChannel:        {"channel_id", "yt_id", "title", "description", "published_at"},
	TableVideo:          {"video_id", "yt_id", "channel_id", "title", "description", "length_seconds", "published_at"},
	TableCollectChannel: {"collect_id", "channel_id", "subscriber_count", "collected_at"},
	TableCollectVideo: {
		"collect_id", "video_id", "like_count", "dislike_count", "view_count", "comment_count", "collected_at",
	},
}

// IDColumn returns the generated primary key column of a table, or "" for snapshot tables.
func IDColumn(table string) string {
	switch table {
	case TableChannel:
		return "channel_id"
	case TableVideo:
		return "video_id"
	default:
		return ""
	}
}

// RunID identifies one execution of the collector.
type RunID int64

// Next returns the id of the following run.
func (r RunID) Next() RunID { return r + 1 }

// Row maps column names to values.
type Row map[string]any

// Where is an equality predicate used by Storage.Select.
type Where struct {
	Column string
	Value  any
}

// ChannelRecord is a tracked channel as stored in the channel table.
type ChannelRecord struct {
	InternalID  int64
	ExternalID  string
	Title       string
	Description string
	PublishedAt time.Time
}

// Row converts the record into insertable columns. The internal id is assigned by Storage.
func (c ChannelRecord) Row() Row {
	return Row{
		"yt_id":        c.ExternalID,
		"title":        c.Title,
		"description":  c.Description,
		"published_at": c.PublishedAt,
	}
}

// VideoRecord is an upload as stored in the video table.
type VideoRecord struct {
	InternalID        int64
	ExternalID        string
	ChannelInternalID int64
	Title             string
	Description       string
	LengthSeconds     int64
	PublishedAt       time.Time
}

// Row converts the record into insertable columns.
func (v VideoRecord) Row() Row {
	return Row{
		"yt_id":          v.ExternalID,
		"channel_id":     v.ChannelInternalID,
		"title":          v.Title,
		"description":    v.Description,
		"length_seconds": v.LengthSeconds,
		"published_at":   v.PublishedAt,
	}
}

// ChannelSnapshot is the subscriber count of a channel observed during a run.
type ChannelSnapshot struct {
	RunID             RunID
	ChannelInternalID int64
	SubscriberCount   int64
	CollectedAt       time.Time
}

// Record wraps the snapshot for the write queue.
func (s ChannelSnapshot) Record() PersistenceRecord {
	return PersistenceRecord{
		Table: TableCollectChannel,
		Columns: Row{
			"collect_id":       int64(s.RunID),
			"channel_id":       s.ChannelInternalID,
			"subscriber_count": s.SubscriberCount,
			"collected_at":     s.CollectedAt,
		},
	}
}

// VideoSnapshot is the engagement counters of a video observed during a run.
type VideoSnapshot struct {
	RunID           RunID
	VideoInternalID int64
	LikeCount       int64
	DislikeCount    int64
	ViewCount       int64
	CommentCount    int64
	CollectedAt     time.Time
}

// Record wraps the snapshot for the write queue.
func (s VideoSnapshot) Record() PersistenceRecord {
	return PersistenceRecord{
		Table: TableCollectVideo,
		Columns: Row{
			"collect_id":    int64(s.RunID),
			"video_id":      s.VideoInternalID,
			"like_count":    s.LikeCount,
			"dislike_count": s.DislikeCount,
			"view_count":    s.ViewCount,
			"comment_count": s.CommentCount,
			"collected_at":  s.CollectedAt,
		},
	}
}

// PersistenceRecord is a single row on its way from a worker to the writer.
type PersistenceRecord struct {
	Table   string `json:"table"`
	Columns Row    `json:"columns"`
}

// Int64 coerces a numeric column value read back from Storage.
func Int64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse id %q: %w", n, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}
