// Package lichessapi is a small HTTP client for the account and game
// export endpoints, used to check a session cookie before opening a socket.
package lichessapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/park285/chess-movesync/internal/retry"
	"github.com/valyala/fasthttp"
)

var ErrUnauthorized = errors.New("session not authorized")

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lichess api error: status=%d body=%s", e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == fasthttp.StatusUnauthorized
}

type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Title    string `json:"title,omitempty"`
}

type GameExport struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Winner  string `json:"winner,omitempty"`
	Moves   string `json:"moves"`
	Rated   bool   `json:"rated"`
	Variant string `json:"variant"`
}

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

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the TCP dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 4},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acc Account
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/account", &acc, true); err != nil {
		return nil, err
	}
	return &acc, nil
}

// ValidateSession reports whether the configured cookie belongs to a
// logged-in account. A 401 is a definite "no"; other failures are errors.
func (c *Client) ValidateSession(ctx context.Context) (*Account, bool, error) {
	acc, err := c.Account(ctx)
	if errors.Is(err, ErrUnauthorized) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(acc.ID) == "" {
		return nil, false, nil
	}
	return acc, true, nil
}

func (c *Client) ExportGame(ctx context.Context, gameID string) (*GameExport, error) {
	var g GameExport
	path := "/game/export/" + url.PathEscape(strings.TrimSpace(gameID)) + "?moves=true&clocks=false&evals=false"
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, &g, true); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any, retryable bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := 1
	if retryable && c.retryMax > 0 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := retry.Sleep(ctx, retry.Backoff(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := &APIError{Status: status, Body: truncate(string(resp.Body()), 512)}
			if attempt == attempts || !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := retry.Sleep(ctx, retry.Backoff(attempt)); sleepErr != nil {
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

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
