// Package roomclient talks to the room service over HTTP.
package roomclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/storage"
)

// Room is a registry entry with its live member count.
type Room struct {
	storage.Room
	Members int `json:"members"`
}

// APIError is a non-2xx answer from the room service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("room service: %d %s", e.Status, e.Message)
}

// Unwrap maps 404 to storage.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return storage.ErrNotFound
	}
	return nil
}

// Client is a room service client. Idempotent requests are retried on
// connection errors and 5xx answers; room creation is sent once.
type Client struct {
	base string
	http *retryablehttp.Client
}

// New creates a client for the service at base, e.g. http://localhost:8000.
func New(base string, logger *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Value(onceKey{}) != nil {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	rc.Logger = leveled{logging.OrNop(logger).Named("roomclient").Sugar()}

	return &Client{base: strings.TrimRight(base, "/"), http: rc}
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("room service status %q", out.Status)
	}
	return nil
}

// CreateRoom asks the service for a new room id.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var out struct {
		RoomID string `json:"room_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/create_room", &out); err != nil {
		return "", err
	}
	if out.RoomID == "" {
		return "", fmt.Errorf("room service returned no room id")
	}
	return out.RoomID, nil
}

// ListRooms returns registered rooms, most recently active first.
func (c *Client) ListRooms(ctx context.Context, limit int) ([]Room, error) {
	path := "/api/rooms"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var rooms []Room
	if err := c.do(ctx, http.MethodGet, path, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetRoom looks a room up by id or id prefix.
func (c *Client) GetRoom(ctx context.Context, id string) (*Room, error) {
	var r Room
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRoom removes a room and disconnects its members.
func (c *Client) DeleteRoom(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(id), nil)
}

// onceKey marks a request context whose request must not be repeated.
type onceKey struct{}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if method == http.MethodPost {
		ctx = context.WithValue(ctx, onceKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct{ s *zap.SugaredLogger }

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
