// Package youtube implements monitor.StatsAPI on top of the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/JakeFAU/channel-monitor/internal/metrics"
	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// Waiter paces calls made with a given API key.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Config configures a Client bound to one API key.
type Config struct {
	APIKey string
	// Endpoint overrides the API base URL. Empty uses the public endpoint.
	Endpoint string
	Limiter  Waiter
}

// Client is a StatsAPI bound to a single API key.
type Client struct {
	svc     *yt.Service
	key     string
	limiter Waiter
}

// New builds a Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("youtube: api key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube: create service: %w", err)
	}
	return &Client{svc: svc, key: cfg.APIKey, limiter: cfg.Limiter}, nil
}

// List issues the first request for resource.
func (c *Client) List(ctx context.Context, resource string, params monitor.Params) (*monitor.Request, *monitor.Response, error) {
	req := &monitor.Request{Resource: resource, Params: maps.Clone(params)}
	resp, err := c.execute(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return req, resp, nil
}

// ListNext requests the page following resp. It returns (nil, nil, nil) when there is none.
func (c *Client) ListNext(
	ctx context.Context,
	resource string,
	req *monitor.Request,
	resp *monitor.Response,
) (*monitor.Request, *monitor.Response, error) {
	next := req.Next(resp)
	if next == nil {
		return nil, nil, nil
	}
	next.Resource = resource
	nextResp, err := c.execute(ctx, next)
	if err != nil {
		return nil, nil, err
	}
	return next, nextResp, nil
}

func (c *Client) execute(ctx context.Context, req *monitor.Request) (*monitor.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.key); err != nil {
			return nil, &monitor.APIError{Resource: req.Resource, Err: err}
		}
	}

	start := time.Now()
	var (
		resp *monitor.Response
		err  error
	)
	switch req.Resource {
	case monitor.ResourceChannels:
		resp, err = c.listChannels(ctx, req)
	case monitor.ResourceVideos:
		resp, err = c.listVideos(ctx, req)
	case monitor.ResourcePlaylistItems:
		resp, err = c.listPlaylistItems(ctx, req)
	default:
		return nil, &monitor.APIError{Resource: req.Resource, Err: monitor.ErrUnknownResource}
	}
	metrics.ObserveAPICall(req.Resource, err, time.Since(start))
	if err != nil {
		return nil, wrapError(req.Resource, err)
	}
	return resp, nil
}

func (c *Client) listChannels(ctx context.Context, req *monitor.Request) (*monitor.Response, error) {
	call := c.svc.Channels.List(splitList(req.Params["part"])).Context(ctx)
	if ids := splitList(req.Params["id"]); len(ids) > 0 {
		call = call.Id(ids...)
	}
	if n, ok, err := maxResults(req.Params); err != nil {
		return nil, err
	} else if ok {
		call = call.MaxResults(n)
	}
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}
	out, err := call.Do()
	if err != nil {
		return nil, err
	}
	resp := &monitor.Response{NextPageToken: out.NextPageToken}
	for _, ch := range out.Items {
		if ch == nil {
			continue
		}
		item := monitor.Item{ID: ch.Id}
		if ch.Snippet != nil {
			item.Snippet = &monitor.Snippet{
				Title:       ch.Snippet.Title,
				Description: ch.Snippet.Description,
				PublishedAt: ch.Snippet.PublishedAt,
			}
		}
		if ch.Statistics != nil {
			item.Statistics = &monitor.Statistics{
				SubscriberCount: ch.Statistics.SubscriberCount,
				ViewCount:       ch.Statistics.ViewCount,
			}
		}
		resp.Items = append(resp.Items, item)
	}
	return resp, nil
}

func (c *Client) listVideos(ctx context.Context, req *monitor.Request) (*monitor.Response, error) {
	call := c.svc.Videos.List(splitList(req.Params["part"])).Context(ctx)
	if ids := splitList(req.Params["id"]); len(ids) > 0 {
		call = call.Id(ids...)
	}
	if n, ok, err := maxResults(req.Params); err != nil {
		return nil, err
	} else if ok {
		call = call.MaxResults(n)
	}
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}
	out, err := call.Do()
	if err != nil {
		return nil, err
	}
	resp := &monitor.Response{NextPageToken: out.NextPageToken}
	for _, v := range out.Items {
		if v == nil {
			continue
		}
		item := monitor.Item{ID: v.Id}
		if v.Snippet != nil {
			item.Snippet = &monitor.Snippet{
				Title:       v.Snippet.Title,
				Description: v.Snippet.Description,
				PublishedAt: v.Snippet.PublishedAt,
			}
		}
		if v.ContentDetails != nil {
			item.ContentDetails = &monitor.ContentDetails{Duration: v.ContentDetails.Duration}
		}
		if v.Statistics != nil {
			item.Statistics = &monitor.Statistics{
				ViewCount:    v.Statistics.ViewCount,
				LikeCount:    v.Statistics.LikeCount,
				DislikeCount: v.Statistics.DislikeCount,
				CommentCount: v.Statistics.CommentCount,
			}
		}
		resp.Items = append(resp.Items, item)
	}
	return resp, nil
}

func (c *Client) listPlaylistItems(ctx context.Context, req *monitor.Request) (*monitor.Response, error) {
	call := c.svc.PlaylistItems.List(splitList(req.Params["part"])).Context(ctx)
	if id := req.Params["playlistId"]; id != "" {
		call = call.PlaylistId(id)
	}
	if n, ok, err := maxResults(req.Params); err != nil {
		return nil, err
	} else if ok {
		call = call.MaxResults(n)
	}
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}
	out, err := call.Do()
	if err != nil {
		return nil, err
	}
	resp := &monitor.Response{NextPageToken: out.NextPageToken}
	for _, pi := range out.Items {
		if pi == nil {
			continue
		}
		item := monitor.Item{ID: pi.Id}
		if pi.ContentDetails != nil {
			item.ContentDetails = &monitor.ContentDetails{
				VideoID:          pi.ContentDetails.VideoId,
				VideoPublishedAt: pi.ContentDetails.VideoPublishedAt,
			}
		}
		resp.Items = append(resp.Items, item)
	}
	return resp, nil
}

func wrapError(resource string, err error) error {
	apiErr := &monitor.APIError{Resource: resource, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		apiErr.StatusCode = gerr.Code
	}
	return apiErr
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maxResults(params monitor.Params) (int64, bool, error) {
	raw, ok := params["maxResults"]
	if !ok || raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("maxResults %q: %w", raw, err)
	}
	return n, true, nil
}
