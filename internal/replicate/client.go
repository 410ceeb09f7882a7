// Package replicate is a minimal client for the hosted prediction API.
package replicate

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
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"
	defaultTimeout = 60 * time.Second
)

// ErrMissingToken is returned when the client is used without an API token.
var ErrMissingToken = errors.New("replicate: api token is not configured")

// Status values reported by the provider.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is the subset of the provider's prediction object the service consumes.
type Prediction struct {
	ID        string          `json:"id"`
	Model     string          `json:"model,omitempty"`
	Version   string          `json:"version,omitempty"`
	Status    string          `json:"status"`
	Output    Output          `json:"output,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Logs      string          `json:"logs,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ErrorMessage renders the prediction error as plain text.
func (p Prediction) ErrorMessage() string {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Terminal reports whether the prediction can no longer change.
func (p Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Output normalises the provider's output field, which is either a single URL or a list.
type Output []string

// UnmarshalJSON accepts a string, a list of strings, or null.
func (o *Output) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*o = nil
			return nil
		}
		*o = Output{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("replicate: unexpected output shape: %w", err)
	}
	*o = list
	return nil
}

// APIError carries a non-2xx provider response so callers can relay it.
type APIError struct {
	StatusCode int
	Detail     string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("replicate: status %d", e.StatusCode)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsServerError reports whether err is a provider 5xx.
func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusInternalServerError
}

// Client talks to the prediction API over HTTPS.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// NewClient builds a client authenticating with token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePrediction starts a job. A target of the form owner/name addresses an official
// model; anything else is treated as a version hash.
func (c *Client) CreatePrediction(ctx context.Context, target string, input map[string]any) (Prediction, error) {
	body := map[string]any{"input": input}
	path := "/predictions"
	if owner, name, ok := strings.Cut(target, "/"); ok {
		path = fmt.Sprintf("/models/%s/%s/predictions", owner, name)
	} else {
		body["version"] = target
	}

	var p Prediction
	if err := c.do(ctx, http.MethodPost, path, body, &p); err != nil {
		return Prediction{}, err
	}
	return p, nil
}

// GetPrediction fetches the current state of a job.
func (c *Client) GetPrediction(ctx context.Context, id string) (Prediction, error) {
	if strings.TrimSpace(id) == "" {
		return Prediction{}, errors.New("replicate: prediction id is required")
	}
	var p Prediction
	if err := c.do(ctx, http.MethodGet, "/predictions/"+id, nil, &p); err != nil {
		return Prediction{}, err
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if c.token == "" {
		return ErrMissingToken
	}

	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("replicate: marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("replicate: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var problem struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if json.Valid(body) {
		apiErr.Body = json.RawMessage(body)
		if err := json.Unmarshal(body, &problem); err == nil {
			apiErr.Detail = problem.Detail
			if apiErr.Detail == "" {
				apiErr.Detail = problem.Title
			}
		}
	} else if text := strings.TrimSpace(string(body)); text != "" {
		apiErr.Detail = text
	}
	return apiErr
}
