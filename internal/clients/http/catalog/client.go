package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client talks to the catalog admin API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithMaxRetries bounds retries of reads that fail with 503 or a transport error.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient instantiates the admin client with sane defaults.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("catalog base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog base URL: %w", err)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// ListDeadLetters lists dead letters, optionally for one group.
func (c *Client) ListDeadLetters(ctx context.Context, group string) ([]DeadLetter, error) {
	query := url.Values{}
	if group = strings.TrimSpace(group); group != "" {
		query.Set("group", group)
	}
	var out []DeadLetter
	if err := c.get(ctx, "/v1/admin/deadletters", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplayDeadLetter re-injects a dead letter into its group. Not retried.
func (c *Client) ReplayDeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("dead letter id is required")
	}
	var out DeadLetter
	if err := c.do(ctx, http.MethodPost, "/v1/admin/deadletters/"+url.PathEscape(id)+"/replay", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lag reports per group and partition backlog.
func (c *Client) Lag(ctx context.Context) ([]PartitionLag, error) {
	var out []PartitionLag
	if err := c.get(ctx, "/v1/admin/lag", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OutboxSummary reports staged events.
func (c *Client) OutboxSummary(ctx context.Context) (*OutboxSummary, error) {
	var out OutboxSummary
	if err := c.get(ctx, "/v1/admin/outbox", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, path, query, out)
		var problem *Problem
		if errors.As(err, &problem) && problem.Status != http.StatusServiceUnavailable {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if c == nil || c.baseURL == nil {
		return errors.New("catalog client not configured")
	}
	target := *c.baseURL
	target.Path += path
	target.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call catalog API: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read catalog response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		problem := &Problem{Status: resp.StatusCode, Title: resp.Status}
		_ = json.Unmarshal(body, problem)
		problem.Status = resp.StatusCode
		return problem
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
