package monitor

import "maps"

// Params are the query parameters of a StatsAPI call, e.g. part, id, playlistId, maxResults.
type Params map[string]string

// Request is the handle of an issued StatsAPI call, used to request the following page.
type Request struct {
	Resource  string
	Params    Params
	PageToken string
}

// Next derives the request for the page after resp, or nil when there is none.
func (r *Request) Next(resp *Response) *Request {
	if r == nil || resp == nil || resp.NextPageToken == "" {
		return nil
	}
	return &Request{Resource: r.Resource, Params: maps.Clone(r.Params), PageToken: resp.NextPageToken}
}

// Response is one page of a StatsAPI listing.
type Response struct {
	Items         []Item
	NextPageToken string
}

// Item is a listed resource. Only the parts requested are populated.
type Item struct {
	ID             string
	Snippet        *Snippet
	Statistics     *Statistics
	ContentDetails *ContentDetails
}

// Snippet carries descriptive metadata. Timestamps are kept in the platform's RFC 3339 form.
type Snippet struct {
	Title       string
	Description string
	PublishedAt string
}

// Statistics carries the counters of a channel or video. Hidden counters are zero.
type Statistics struct {
	SubscriberCount uint64
	ViewCount       uint64
	LikeCount       uint64
	DislikeCount    uint64
	CommentCount    uint64
}

// ContentDetails carries playlist item and video details.
type ContentDetails struct {
	VideoID          string
	VideoPublishedAt string
	Duration         string
}
