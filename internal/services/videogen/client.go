package videogen

import (
	"bytes"
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

// Job statuses reported by the rendering service.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	defaultPollInterval = 5 * time.Second
	requestTimeout      = 30 * time.Second
)

// Config describes the rendering service.
type Config struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Segment is one ordered piece of the dream handed to the renderer.
type Segment struct {
	Order      int    `json:"order"`
	Transcript string `json:"transcript"`
	ContentRef string `json:"content_ref,omitempty"`
}

// Job is a render request.
type Job struct {
	DreamID    string    `json:"dream_id"`
	Transcript string    `json:"transcript"`
	Segments   []Segment `json:"segments"`
}

// Result is the terminal state of a job.
type Result struct {
	JobID    string
	URL      string
	Polls    int
	Duration time.Duration
}

// JobStatus is one poll response.
type JobStatus struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

// Client talks to the rendering service.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient constructs a video job client.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Render submits job and blocks until it completes, fails or the configured
// timeout elapses.
func (c *Client) Render(ctx context.Context, job Job) (Result, error) {
	if strings.TrimSpace(job.Transcript) == "" {
		return Result{}, errors.New("videogen: transcript required")
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	started := time.Now()
	jobID, err := c.Submit(ctx, job)
	if err != nil {
		return Result{}, err
	}

	polls := 0
	var final JobStatus
	op := func() error {
		polls++
		status, err := c.Status(ctx, jobID)
		if err != nil {
			return err
		}
		switch status.Status {
		case StatusCompleted:
			if strings.TrimSpace(status.VideoURL) == "" {
				return backoff.Permanent(fmt.Errorf("videogen: job %s completed without a video url", jobID))
			}
			final = status
			return nil
		case StatusFailed:
			reason := strings.TrimSpace(status.Error)
			if reason == "" {
				reason = "no reason given"
			}
			return backoff.Permanent(fmt.Errorf("videogen: job %s failed: %s", jobID, reason))
		case StatusQueued, StatusProcessing:
			return fmt.Errorf("videogen: job %s is %s", jobID, status.Status)
		default:
			return backoff.Permanent(fmt.Errorf("videogen: job %s reported unknown status %q", jobID, status.Status))
		}
	}
	schedule := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.PollInterval), ctx)
	if err := backoff.Retry(op, schedule); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return Result{JobID: jobID, Polls: polls}, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return Result{JobID: jobID, Polls: polls}, err
	}
	return Result{JobID: jobID, URL: final.VideoURL, Polls: polls, Duration: time.Since(started)}, nil
}

// Submit queues job and returns its id.
func (c *Client) Submit(ctx context.Context, job Job) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", job, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.JobID) == "" {
		return "", errors.New("videogen: submit returned no job id")
	}
	return resp.JobID, nil
}

// Status fetches one job. Server errors are returned as retryable; client
// errors are permanent.
func (c *Client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	var status JobStatus
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &status)
	return status, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("videogen: encode request: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("videogen: new request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("videogen: request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("videogen: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("videogen: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return backoff.Permanent(fmt.Errorf("videogen: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("videogen: decode response: %w", err))
	}
	return nil
}
