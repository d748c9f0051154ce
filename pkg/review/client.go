// Package review wraps the human review service API: creating review tasks
// for flagged fields and fetching submitted corrections.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://review.internal.sellsgroup.com/v1"

// Task statuses reported by the review service.
const (
	TaskStatusPending   = "Pending"
	TaskStatusCompleted = "Completed"
	TaskStatusExpired   = "Expired"
)

// CreateTaskRequest opens a review task. Input carries the minimal payload
// shown to the reviewer: flagged fields grouped by page plus page images.
type CreateTaskRequest struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Input       any    `json:"input"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Correction is one reviewer-submitted field value, addressed by field path.
type Correction struct {
	Path       string `json:"path"`
	Value      any    `json:"value"`
	ReviewerID string `json:"reviewer_id,omitempty"`
}

// TaskResult is the state of a review task and any corrections submitted so far.
type TaskResult struct {
	TaskID      string       `json:"task_id"`
	Status      string       `json:"status"`
	Corrections []Correction `json:"corrections,omitempty"`
}

// APIError is a non-2xx response from the review service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("review: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client defines the review service operations used by the pipeline.
type Client interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (taskID string, err error)
	FetchTask(ctx context.Context, taskID string) (*TaskResult, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request throttle (3 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a review service client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(3, 3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "review: rate limit wait")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "review: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "review: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "review: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "review: read response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "review: unmarshal response")
	}
	if result.TaskID == "" {
		return "", eris.New("review: response missing task id")
	}
	return result.TaskID, nil
}

func (c *httpClient) FetchTask(ctx context.Context, taskID string) (*TaskResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "review: rate limit wait")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "review: create request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "review: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "review: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result TaskResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "review: unmarshal task")
	}
	return &result, nil
}
