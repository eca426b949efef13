// Package crawlerclient submits search crawl jobs to the crawler service.
package crawlerclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultMaxNotes      = 10
	defaultRetryCount    = 2
	defaultRetryWait     = 500 * time.Millisecond
	crawlerTypeSearch    = "search"
	tasksPath            = "/api/v1/tasks"
	callbackPathTemplate = "/v1/callbacks/crawl/%s"
)

var (
	errNoBaseURL     = errors.New("crawler base url is not configured")
	errUnexpected    = errors.New("crawler returned non-success status")
	errMissingTaskID = errors.New("crawler response has no task id")
)

var _ ports.CrawlerService = (*Client)(nil)

// TaskRequest is the body of a crawl submission.
type TaskRequest struct {
	Platforms      []string `json:"platforms"`
	CrawlerType    string   `json:"crawler_type"`
	Keywords       string   `json:"keywords"`
	MaxNotesCount  int      `json:"max_notes_count"`
	EnableComments bool     `json:"enable_comments"`
	CallbackURL    string   `json:"callback_url,omitempty"`
	HotspotID      string   `json:"hotspot_id"`
}

// TaskResponse is the crawler's acknowledgement.
type TaskResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Client talks to the crawler service over HTTP.
type Client struct {
	client      *resty.Client
	callbackURL string
}

// New creates a crawler client.
func New(cfg config.CrawlerConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errNoBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(defaultRetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("User-Agent", "hotspot-engine/1.0")

	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}

	return &Client{client: rc, callbackURL: strings.TrimRight(cfg.CallbackBaseURL, "/")}, nil
}

// SubmitCrawl starts a search crawl for the hotspot keyword and returns the task id.
func (c *Client) SubmitCrawl(ctx context.Context, req ports.CrawlRequest) (string, error) {
	body := TaskRequest{
		Platforms:      req.Platforms,
		CrawlerType:    crawlerTypeSearch,
		Keywords:       req.Keyword,
		MaxNotesCount:  defaultMaxNotes,
		EnableComments: true,
		HotspotID:      req.HotspotID,
	}

	if c.callbackURL != "" {
		body.CallbackURL = c.callbackURL + fmt.Sprintf(callbackPathTemplate, req.HotspotID)
	}

	var out TaskResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(tasksPath)
	if err != nil {
		return "", fmt.Errorf("submitting crawl for %s: %w", req.HotspotID, err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("%w: %d: %s", errUnexpected, resp.StatusCode(), resp.String())
	}

	if out.TaskID == "" {
		return "", errMissingTaskID
	}

	return out.TaskID, nil
}
