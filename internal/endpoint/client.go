// Package endpoint talks to the dictionary job endpoints over HTTP.
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ahmethakanbesel/diadict/internal/progress"
)

const (
	defaultUserAgent = "diadict/1.0"
	csrfField        = "csrfmiddlewaretoken"
	csrfHeader       = "X-CSRFToken"
	maxBody          = 1 << 20
)

// Client implements progress.Transport.
type Client struct {
	client    *http.Client
	csrfToken string
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithCSRFToken sets the token sent with every start request.
func WithCSRFToken(token string) Option {
	return func(cl *Client) { cl.csrfToken = token }
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

func New(opts ...Option) *Client {
	c := &Client{
		client:    http.DefaultClient,
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start posts params as a form. A 2xx answer that is not a status report
// yields a nil report; a non-2xx answer wraps progress.ErrRejected.
func (c *Client) Start(ctx context.Context, endpoint string, params url.Values) (*progress.Report, error) {
	form := url.Values{}
	for k, v := range params {
		form[k] = append([]string(nil), v...)
	}
	if c.csrfToken != "" {
		form.Set(csrfField, c.csrfToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.csrfToken != "" {
		req.Header.Set(csrfHeader, c.csrfToken)
	}

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: %d %s", progress.ErrRejected, status, http.StatusText(status))
	}

	var r progress.Report
	if err := json.Unmarshal(body, &r); err != nil {
		slog.Debug("start response is not a status report", "url", endpoint, "error", err)
		return nil, nil
	}
	return &r, nil
}

// Progress queries endpoint with params in the query string.
func (c *Client) Progress(ctx context.Context, endpoint string, params url.Values) (progress.Report, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return progress.Report{}, fmt.Errorf("parse progress url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return progress.Report{}, err
	}

	body, status, err := c.do(req)
	if err != nil {
		return progress.Report{}, err
	}
	if status < 200 || status > 299 {
		return progress.Report{}, fmt.Errorf("progress query: unexpected status %d", status)
	}

	var r progress.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return progress.Report{}, fmt.Errorf("decode progress report: %w", err)
	}
	return r, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.client.Do(req) //nolint:gosec // URL comes from config or discovery
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, res.StatusCode, err
	}
	return body, res.StatusCode, nil
}
