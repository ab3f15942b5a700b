// Package github is a small REST client for the release and Actions
// endpoints a release run touches.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lyndonlyu/releasekit/internal/retry"
)

const DefaultAPIURL = "https://api.github.com"

var (
	ErrNotFound     = errors.New("github: not found")
	ErrUnauthorized = errors.New("github: unauthorized")
)

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

type Options struct {
	BaseURL    string
	Token      string
	Owner      string
	Repo       string
	HTTPClient *http.Client
	// RequestsPerSecond caps outgoing calls; zero means 5.
	RequestsPerSecond float64
	Retry             retry.Policy
}

type Client struct {
	baseURL    string
	token      string
	owner      string
	repo       string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAPIURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		owner:      opts.Owner,
		repo:       opts.Repo,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		policy:     opts.Retry,
	}
}

func (c *Client) Available() bool {
	return c.token != "" && c.owner != "" && c.repo != ""
}

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

// do sends one request, retrying 5xx and 429 responses. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
	}

	var raw []byte
	err := c.policy.Execute(ctx, func(ctx context.Context) (retry.ErrorKind, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.NonRetriable, err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return retry.NonRetriable, fmt.Errorf("github: create request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Classify(err, 0, err.Error()), fmt.Errorf("github: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retriable, fmt.Errorf("github: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: message(raw)}
			return retry.ClassifyStatus(resp.StatusCode), apiErr
		}
		return retry.Retriable, nil
	})
	if err != nil {
		return err
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("github: parse response: %w", err)
		}
	}
	return nil
}

// getRaw fetches a non-JSON body, following redirects.
func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Message: message(data)}
	}
	return data, nil
}

func message(body []byte) string {
	var m struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &m) == nil && m.Message != "" {
		return m.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
