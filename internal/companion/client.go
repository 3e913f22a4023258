// Package companion is the HTTP client for the companion web API that
// mirrors playtest metadata. Requests carry the shared X-API-KEY secret and
// any non-2xx status is returned as a *StatusError.
package companion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/tbourn/genji-bot/internal/config"
)

const playtestsPath = "/v2/maps/playtests/"

// PlaytestMeta is the payload mirrored when a playtest opens.
type PlaytestMeta struct {
	ThreadID          int64   `json:"thread_id"`
	MapID             string  `json:"map_id"`
	InitialDifficulty float64 `json:"initial_difficulty"`
}

// PlaytestInfo is the companion API view of a playtest.
type PlaytestInfo struct {
	ThreadID   int64   `json:"thread_id"`
	MapCode    string  `json:"map_code"`
	MapName    string  `json:"map_name"`
	Difficulty float64 `json:"difficulty"`
	VoteCount  int     `json:"vote_count"`
	Completed  bool    `json:"completed"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("companion api: %s %s: status %d", e.Method, e.URL, e.Status)
}

// Client calls the companion API.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *fasthttp.Client
	limiter *rate.Limiter
}

// NewClient builds a client from configuration.
func NewClient(cfg config.CompanionConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS))),
	}
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

// PostPlaytest mirrors a newly opened playtest.
func (c *Client) PostPlaytest(ctx context.Context, meta PlaytestMeta) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = doRequest[json.RawMessage](ctx, c, fasthttp.MethodPost, c.baseURL+playtestsPath, body)
	return err
}

// GetPlaytest fetches the current playtest data for a thread.
func (c *Client) GetPlaytest(ctx context.Context, threadID int64) (*PlaytestInfo, error) {
	url := c.baseURL + playtestsPath + strconv.FormatInt(threadID, 10)
	return doRequest[PlaytestInfo](ctx, c, fasthttp.MethodGet, url, nil)
}

func doRequest[T any](ctx context.Context, c *Client, method, url string, body []byte) (*T, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("companion api: base url not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline, ok = time.Now().Add(c.timeout), true
	}
	var err error
	if ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.Do(req, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("companion api: %s %s: %w", method, url, err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &StatusError{Method: method, URL: url, Status: code, Body: string(resp.Body())}
	}

	var result T
	if len(resp.Body()) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("companion api: decode %s: %w", url, err)
	}
	return &result, nil
}
