package monitor

import (
	"context"
	"time"
)

// StatsAPI resources used by the collector.
const (
	ResourceChannels      = "channels"
	ResourceVideos        = "videos"
	ResourcePlaylistItems = "playlistItems"
)

// StatsAPI is a paged listing interface over the video platform.
type StatsAPI interface {
	// List issues the first request for resource and returns its handle and response.
	List(ctx context.Context, resource string, params Params) (*Request, *Response, error)
	// ListNext follows the continuation of a previous call. It returns (nil, nil, nil)
	// once pagination is exhausted.
	ListNext(ctx context.Context, resource string, req *Request, resp *Response) (*Request, *Response, error)
}

// Storage is the typed select/insert capability backing the collector.
type Storage interface {
	Select(ctx context.Context, table string, columns []string, where ...Where) ([]Row, error)
	// Insert writes one or more rows. The returned id is only meaningful for single-row calls.
	Insert(ctx context.Context, table string, rows ...Row) (int64, error)
}

// WorkQueue hands out channel targets to workers.
type WorkQueue interface {
	DequeueTimeout(ctx context.Context, timeout time.Duration) (string, error)
	Len() int
}

// RecordSink accepts rows produced by workers.
type RecordSink interface {
	Enqueue(ctx context.Context, record PersistenceRecord) error
}

// Clock returns the current time in the collector's configured zone.
type Clock interface {
	Now() time.Time
}
