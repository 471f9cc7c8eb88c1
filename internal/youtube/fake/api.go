// Package fake provides a scripted in-memory monitor.StatsAPI for tests.
package fake

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// ErrInjected is the cause of failures scheduled with FailNext.
var ErrInjected = errors.New("injected failure")

// Video is an upload served by the fake.
type Video struct {
	ID          string
	Title       string
	PublishedAt string
	Duration    string
	Views       uint64
	Likes       uint64
	Dislikes    uint64
	Comments    uint64
	// NoSnippet makes metadata lookups return the video without a snippet.
	NoSnippet bool
}

// Channel is a channel served by the fake. Uploads are listed in the given order.
type Channel struct {
	ID          string
	Title       string
	Description string
	PublishedAt string
	Subscribers uint64
	Uploads     []Video
}

// Call records one request made against the fake.
type Call struct {
	Resource  string
	Params    monitor.Params
	PageToken string
}

// API is a scripted StatsAPI. It is safe for concurrent use.
type API struct {
	mu       sync.Mutex
	channels map[string]Channel
	videos   map[string]Video
	failures map[string]int
	calls    []Call
}

// New returns an empty fake.
func New() *API {
	return &API{
		channels: make(map[string]Channel),
		videos:   make(map[string]Video),
		failures: make(map[string]int),
	}
}

// AddChannel registers ch and its uploads.
func (a *API) AddChannel(ch Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channels[ch.ID] = ch
	for _, v := range ch.Uploads {
		a.videos[v.ID] = v
	}
}

// FailNext makes the next n calls for resource with the given part parameter fail.
func (a *API) FailNext(resource, part string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[resource+"|"+part] += n
}

// Calls returns every request made so far.
func (a *API) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

// CallCount counts requests for resource with the given part parameter.
func (a *API) CallCount(resource, part string) int {
	n := 0
	for _, c := range a.Calls() {
		if c.Resource == resource && c.Params["part"] == part {
			n++
		}
	}
	return n
}

// Requested reports whether any request for resource named id in its id parameter.
func (a *API) Requested(resource, id string) bool {
	for _, c := range a.Calls() {
		if c.Resource == resource && slices.Contains(strings.Split(c.Params["id"], ","), id) {
			return true
		}
	}
	return false
}

// List implements monitor.StatsAPI.
func (a *API) List(_ context.Context, resource string, params monitor.Params) (*monitor.Request, *monitor.Response, error) {
	req := &monitor.Request{Resource: resource, Params: maps.Clone(params)}
	resp, err := a.serve(req)
	if err != nil {
		return nil, nil, err
	}
	return req, resp, nil
}

// ListNext implements monitor.StatsAPI.
func (a *API) ListNext(
	_ context.Context,
	resource string,
	req *monitor.Request,
	resp *monitor.Response,
) (*monitor.Request, *monitor.Response, error) {
	next := req.Next(resp)
	if next == nil {
		return nil, nil, nil
	}
	next.Resource = resource
	out, err := a.serve(next)
	if err != nil {
		return nil, nil, err
	}
	return next, out, nil
}

func (a *API) serve(req *monitor.Request) (*monitor.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, Call{Resource: req.Resource, Params: maps.Clone(req.Params), PageToken: req.PageToken})
	key := req.Resource + "|" + req.Params["part"]
	if a.failures[key] > 0 {
		a.failures[key]--
		return nil, &monitor.APIError{Resource: req.Resource, StatusCode: http.StatusServiceUnavailable, Err: ErrInjected}
	}

	parts := strings.Split(req.Params["part"], ",")
	switch req.Resource {
	case monitor.ResourceChannels:
		return a.channelsResponse(req, parts), nil
	case monitor.ResourceVideos:
		return a.videosResponse(req, parts), nil
	case monitor.ResourcePlaylistItems:
		return a.playlistResponse(req)
	default:
		return nil, &monitor.APIError{Resource: req.Resource, Err: monitor.ErrUnknownResource}
	}
}

func (a *API) channelsResponse(req *monitor.Request, parts []string) *monitor.Response {
	resp := &monitor.Response{}
	for _, id := range strings.Split(req.Params["id"], ",") {
		ch, ok := a.channels[id]
		if !ok {
			continue
		}
		item := monitor.Item{ID: ch.ID}
		if slices.Contains(parts, "snippet") {
			item.Snippet = &monitor.Snippet{Title: ch.Title, Description: ch.Description, PublishedAt: ch.PublishedAt}
		}
		if slices.Contains(parts, "statistics") {
			item.Statistics = &monitor.Statistics{SubscriberCount: ch.Subscribers}
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

func (a *API) videosResponse(req *monitor.Request, parts []string) *monitor.Response {
	resp := &monitor.Response{}
	for _, id := range strings.Split(req.Params["id"], ",") {
		v, ok := a.videos[id]
		if !ok {
			continue
		}
		item := monitor.Item{ID: v.ID}
		if slices.Contains(parts, "snippet") && !v.NoSnippet {
			item.Snippet = &monitor.Snippet{Title: v.Title, PublishedAt: v.PublishedAt}
		}
		if slices.Contains(parts, "contentDetails") {
			item.ContentDetails = &monitor.ContentDetails{Duration: v.Duration}
		}
		if slices.Contains(parts, "statistics") {
			item.Statistics = &monitor.Statistics{
				ViewCount:    v.Views,
				LikeCount:    v.Likes,
				DislikeCount: v.Dislikes,
				CommentCount: v.Comments,
			}
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

func (a *API) playlistResponse(req *monitor.Request) (*monitor.Response, error) {
	playlistID := req.Params["playlistId"]
	if len(playlistID) < 2 {
		return nil, &monitor.APIError{Resource: req.Resource, StatusCode: http.StatusNotFound, Err: errors.New("playlist not found")}
	}
	ch, ok := a.channels["UC"+playlistID[2:]]
	if !ok {
		return nil, &monitor.APIError{Resource: req.Resource, StatusCode: http.StatusNotFound, Err: errors.New("playlist not found")}
	}
	size := len(ch.Uploads)
	if n, err := strconv.Atoi(req.Params["maxResults"]); err == nil && n > 0 {
		size = n
	}
	offset := 0
	if req.PageToken != "" {
		n, err := strconv.Atoi(req.PageToken)
		if err != nil {
			return nil, &monitor.APIError{Resource: req.Resource, StatusCode: http.StatusBadRequest, Err: err}
		}
		offset = min(n, len(ch.Uploads))
	}
	resp := &monitor.Response{}
	end := min(offset+size, len(ch.Uploads))
	for _, v := range ch.Uploads[offset:end] {
		resp.Items = append(resp.Items, monitor.Item{
			ID:             "pl-" + v.ID,
			ContentDetails: &monitor.ContentDetails{VideoID: v.ID, VideoPublishedAt: v.PublishedAt},
		})
	}
	if end < len(ch.Uploads) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	return resp, nil
}
