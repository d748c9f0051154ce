// Package extraction wraps the document extraction service API: submitting
// documents for processing and fetching the resulting field trees.
package extraction

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

const defaultBaseURL = "https://extraction.internal.sellsgroup.com/v1"

// Job statuses reported by the extraction service.
const (
	JobStatusCreated    = "Created"
	JobStatusInProgress = "InProgress"
	JobStatusSuccess    = "Success"
	JobStatusError      = "ServiceError"
)

// SubmitRequest asks the service to extract one document.
type SubmitRequest struct {
	SourceURI   string `json:"source_uri"`
	BlueprintID string `json:"blueprint_id"`
	// CallbackURL receives the completion notification for the job.
	CallbackURL string `json:"callback_url,omitempty"`
}

// Result is the state of an extraction job. Output is the raw nested field
// tree; callers parse it into their own representation.
type Result struct {
	JobHandle string          `json:"job_handle"`
	Status    string          `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	// PageImages maps page number to a pre-signed image URL for review context.
	PageImages map[int]string `json:"page_images,omitempty"`
}

// APIError is a non-2xx response from the extraction service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extraction: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client defines the extraction service operations used by the pipeline.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (jobHandle string, err error)
	FetchResult(ctx context.Context, jobHandle string) (*Result, error)
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

// WithRateLimit overrides the default request throttle (5 req/s).
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

// NewClient creates an extraction service client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
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

func (c *httpClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "extraction: rate limit wait")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "extraction: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "extraction: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "extraction: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "extraction: read response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		JobHandle string `json:"job_handle"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "extraction: unmarshal response")
	}
	if result.JobHandle == "" {
		return "", eris.New("extraction: response missing job handle")
	}
	return result.JobHandle, nil
}

func (c *httpClient) FetchResult(ctx context.Context, jobHandle string) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extraction: rate limit wait")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobHandle, nil)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: create request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "extraction: unmarshal result")
	}
	return &result, nil
}
