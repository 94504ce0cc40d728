package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
)

// Config describes an OpenAI-compatible /audio/transcriptions endpoint.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Language       string
	TimeoutSeconds int
}

// Client uploads recordings and returns their transcript.
type Client struct {
	cfg        Config
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBackOff overrides the retry schedule for transient failures.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) {
		if factory != nil {
			c.newBackOff = factory
		}
	}
}

// NewClient constructs a transcription client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultMaxRetries)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the backend in logs.
func (c *Client) Name() string {
	return "http:" + c.cfg.Model
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("transcription: http %d: %s", e.code, e.body)
}

// Transcribe uploads the file at path and returns the recognized text.
// Rate limits and server errors are retried; other failures are returned
// immediately.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", errors.New("transcription: api key required")
	}
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("transcription: read audio: %w", err)
	}

	var text string
	op := func() error {
		result, err := c.send(ctx, filepath.Base(path), audio)
		if err == nil {
			text = result
			return nil
		}
		var statusErr *statusError
		if errors.As(err, &statusErr) && statusErr.code != http.StatusTooManyRequests && statusErr.code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) send(ctx context.Context, filename string, audio []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("transcription: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("transcription: build form: %w", err)
	}
	fields := map[string]string{
		"model":           c.cfg.Model,
		"language":        c.cfg.Language,
		"response_format": "json",
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(key, value); err != nil {
			return "", fmt.Errorf("transcription: build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("transcription: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, &body)
	if err != nil {
		return "", fmt.Errorf("transcription: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("transcription: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("transcription: decode response: %w", err)
	}
	return strings.TrimSpace(payload.Text), nil
}
