// Package replay posts pending actions to an HTTP API.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/sync/queue"
)

// DefaultTimeout bounds a request when the client has none.
const DefaultTimeout = 30 * time.Second

// IdempotencyHeader carries the action id so servers can drop replays.
const IdempotencyHeader = "Idempotency-Key"

// maxErrorBody is how much of an error response ends up in the message.
const maxErrorBody = 512

// Client replays actions as POST requests to <baseURL>/<kind>.
type Client struct {
	baseURL string
	client  *http.Client
	headers http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid replay base URL %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Handle posts the action payload. 2xx is success. 4xx other than 408
// and 429 rejects the action; everything else is retryable.
func (c *Client) Handle(ctx context.Context, action queue.Action) error {
	endpoint := c.baseURL + "/" + strings.TrimLeft(action.Kind, "/")

	body := action.Payload
	if len(body) == 0 {
		body = []byte("null")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrActionRejected, "failed to build replay request", err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, action.ID)

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrHandlerFailed, "replay request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("%s %s returned %d", req.Method, endpoint, resp.StatusCode)
	if s := strings.TrimSpace(string(snippet)); s != "" {
		msg += ": " + s
	}

	if rejected(resp.StatusCode) {
		return apperrors.New(apperrors.ErrActionRejected, msg)
	}
	return apperrors.New(apperrors.ErrHandlerFailed, msg)
}

func rejected(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
