package blundrclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/blundrbot/pkg/blundrdto"
)

// HeaderProvider supplies per-request headers.
type HeaderProvider func() map[string]string

// Client talks to a blundrbot server over HTTP.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 15 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorstMove asks the server for the worst move. Worst-move requests are
// stateless, so 5xx replies are retried.
func (c *Client) WorstMove(ctx context.Context, req blundrdto.WorstMoveRequest) (*blundrdto.WorstMoveResponse, error) {
	var resp blundrdto.WorstMoveResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/worst-move", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Health(ctx context.Context) (*blundrdto.Health, error) {
	var h blundrdto.Health
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, &h, false); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) RecentMoves(ctx context.Context, limit int) (*blundrdto.RecentMovesResponse, error) {
	path := "/moves/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out blundrdto.RecentMovesResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// BoardPNG fetches a rendered board, highlighting move when non-empty.
func (c *Client) BoardPNG(ctx context.Context, fen, move string, flip bool) ([]byte, error) {
	q := url.Values{}
	q.Set("fen", fen)
	if move != "" {
		q.Set("move", move)
	}
	if flip {
		q.Set("flip", "true")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "/board.png?" + q.Encode())
	c.applyHeaders(req)

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return nil, apiError(status, resp.Body())
	}
	return append([]byte(nil), resp.Body()...), nil
}

func (c *Client) applyHeaders(req *fasthttp.Request) {
	if c.headers == nil {
		return
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			req.Header.Set(k, v)
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	c.applyHeaders(req)

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := apiError(status, resp.Body())
			if attempt == attempts || !apiErr.Retryable() {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func apiError(status int, body []byte) *blundrdto.APIError {
	var e blundrdto.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Detail == "" {
		e.Detail = fmt.Sprintf("status=%d body=%s", status, truncate(string(body), 512))
	}
	return &blundrdto.APIError{StatusCode: status, Detail: e.Detail}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
