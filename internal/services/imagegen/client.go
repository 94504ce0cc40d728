package imagegen

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

const defaultTimeout = 120 * time.Second

// Config describes an OpenAI-compatible /images/generations endpoint.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Size           string
	Style          string
	TimeoutSeconds int
}

// Image is one generated illustration.
type Image struct {
	URL           string
	Prompt        string
	RevisedPrompt string
	Model         string
	Size          string
}

// Client requests illustrations for dream summaries.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient constructs an image generation client.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := defaultTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

type generateRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
}

type generateResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate renders prompt, with the configured style appended.
func (c *Client) Generate(ctx context.Context, prompt string) (Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Image{}, errors.New("imagegen: prompt required")
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Image{}, errors.New("imagegen: api key required")
	}
	full := prompt
	if style := strings.TrimSpace(c.cfg.Style); style != "" {
		full = prompt + ". Style: " + style
	}
	encoded, err := json.Marshal(generateRequest{Model: c.cfg.Model, Prompt: full, Size: c.cfg.Size, N: 1})
	if err != nil {
		return Image{}, fmt.Errorf("imagegen: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return Image{}, fmt.Errorf("imagegen: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("imagegen: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Image{}, fmt.Errorf("imagegen: read body: %w", err)
	}
	var payload generateResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		if resp.StatusCode >= http.StatusMultipleChoices {
			return Image{}, fmt.Errorf("imagegen: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return Image{}, fmt.Errorf("imagegen: decode response: %w", err)
	}
	if payload.Error != nil {
		return Image{}, fmt.Errorf("imagegen: http %d: %s", resp.StatusCode, payload.Error.Message)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Image{}, fmt.Errorf("imagegen: http %d", resp.StatusCode)
	}
	if len(payload.Data) == 0 || strings.TrimSpace(payload.Data[0].URL) == "" {
		return Image{}, errors.New("imagegen: response contained no image")
	}
	return Image{
		URL:           payload.Data[0].URL,
		Prompt:        full,
		RevisedPrompt: payload.Data[0].RevisedPrompt,
		Model:         c.cfg.Model,
		Size:          c.cfg.Size,
	}, nil
}
