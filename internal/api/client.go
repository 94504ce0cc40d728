package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"reverie/internal/services"
)

// ErrAPIUnavailable reports that no daemon answered at the configured bind.
var ErrAPIUnavailable = errors.New("reverie API unavailable")

// RequestIDHeader carries the correlation id of a request.
const RequestIDHeader = "X-Request-ID"

var markers = map[string]error{
	"not_found":           services.ErrNotFound,
	"duplicate_order":     services.ErrDuplicateOrder,
	"already_exists":      services.ErrAlreadyExists,
	"already_in_progress": services.ErrAlreadyInProgress,
	"no_transcript":       services.ErrNoTranscript,
	"timeout":             services.ErrTimeout,
	"generation_failed":   services.ErrGenerationFailed,
	"invalid_transition":  services.ErrInvalidTransition,
	"retry_exhausted":     services.ErrRetryExhausted,
	"validation":          services.ErrValidation,
}

// Client implements Service against a running daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

var _ Service = (*Client)(nil)

// NewClient builds a client for the daemon listening on bind. timeout bounds
// each request; finish requests block up to the server's finish timeout, so
// callers should leave headroom.
func NewClient(bind, token string, timeout time.Duration) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{base: base, http: &http.Client{Timeout: timeout}, token: strings.TrimSpace(token)}, nil
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeError rebuilds an error that matches the server-side marker.
func decodeError(resp *http.Response) error {
	var payload ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
	}
	if marker, ok := markers[payload.Code]; ok {
		return &RemoteError{Status: resp.StatusCode, Message: payload.Error, marker: marker}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return &RemoteError{Status: resp.StatusCode, Message: "unauthorized: check paths.api_token"}
	}
	return &RemoteError{Status: resp.StatusCode, Message: payload.Error}
}

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Status  int
	Message string
	marker  error
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return e.Message
}

// Unwrap exposes the services marker so errors.Is works across the wire.
func (e *RemoteError) Unwrap() error { return e.marker }

func dreamPath(id string, parts ...string) string {
	segments := append([]string{"/api/dreams", id}, parts...)
	return strings.Join(segments, "/")
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// CreateDream implements Service.
func (c *Client) CreateDream(ctx context.Context, req CreateDreamRequest) (Dream, error) {
	var out Dream
	err := c.do(ctx, http.MethodPost, "/api/dreams", nil, req, &out)
	return out, err
}

// ListDreams implements Service.
func (c *Client) ListDreams(ctx context.Context, userID string) ([]Dream, error) {
	var out DreamListResponse
	err := c.do(ctx, http.MethodGet, "/api/dreams", url.Values{"user_id": {userID}}, nil, &out)
	return out.Dreams, err
}

// GetDream implements Service.
func (c *Client) GetDream(ctx context.Context, id string) (Dream, error) {
	var out Dream
	err := c.do(ctx, http.MethodGet, dreamPath(id), nil, nil, &out)
	return out, err
}

// AddSegment implements Service.
func (c *Client) AddSegment(ctx context.Context, dreamID string, req AddSegmentRequest) (Segment, error) {
	var out Segment
	err := c.do(ctx, http.MethodPost, dreamPath(dreamID, "segments"), nil, req, &out)
	return out, err
}

// DeleteSegment implements Service.
func (c *Client) DeleteSegment(ctx context.Context, dreamID, segmentID string) error {
	return c.do(ctx, http.MethodDelete, dreamPath(dreamID, "segments", segmentID), nil, nil, nil)
}

// FinishDream implements Service.
func (c *Client) FinishDream(ctx context.Context, id string) (Dream, error) {
	var out Dream
	err := c.do(ctx, http.MethodPost, dreamPath(id, "finish"), nil, nil, &out)
	return out, err
}

// GenerateStage implements Service.
func (c *Client) GenerateStage(ctx context.Context, id, stage string, force bool) (Stage, error) {
	var out Stage
	query := url.Values{}
	if force {
		query.Set("force", strconv.FormatBool(force))
	}
	err := c.do(ctx, http.MethodPost, dreamPath(id, "stages", stage), query, nil, &out)
	return out, err
}

// RecoverDream implements Service.
func (c *Client) RecoverDream(ctx context.Context, id string) (RecoveryReport, error) {
	var out RecoveryReport
	err := c.do(ctx, http.MethodPost, dreamPath(id, "recover"), nil, nil, &out)
	return out, err
}

// RecordAnswer implements Service.
func (c *Client) RecordAnswer(ctx context.Context, dreamID string, req AnswerRequest) (Answer, error) {
	var out Answer
	err := c.do(ctx, http.MethodPost, dreamPath(dreamID, "answers"), nil, req, &out)
	return out, err
}

// SubmitCheckIn implements Service.
func (c *Client) SubmitCheckIn(ctx context.Context, req CheckInRequest) (CheckIn, error) {
	var out CheckIn
	err := c.do(ctx, http.MethodPost, "/api/checkins", nil, req, &out)
	return out, err
}

// GetCheckIn implements Service.
func (c *Client) GetCheckIn(ctx context.Context, id string) (CheckIn, error) {
	var out CheckIn
	err := c.do(ctx, http.MethodGet, "/api/checkins/"+id, nil, nil, &out)
	return out, err
}

// RetryCheckIn implements Service.
func (c *Client) RetryCheckIn(ctx context.Context, id string) (CheckIn, error) {
	var out CheckIn
	err := c.do(ctx, http.MethodPost, "/api/checkins/"+id+"/retry", nil, nil, &out)
	return out, err
}

// GetProfile implements Service.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodGet, "/api/profiles/"+userID, nil, nil, &out)
	return out, err
}
