// Package transport is the HTTP collaborator for the API sessions: it
// attaches the bearer token, performs a single refresh-and-retry on 401, and
// folds transport failures into APIError values with user-facing messages.
// Retry/backoff beyond the refresh rule does not live here.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/taxipool/internal/observability"
)

// APIError is the single error type surfaced to the UI layer for transport
// and server failures. Message is the server-provided message when one could
// be extracted, otherwise a localized fallback supplied by the session.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("api error (status %d)", e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// Wrap folds err into an APIError carrying fallback as the user-facing
// message when no server message is available. A nil err passes through.
func Wrap(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message == "" {
			apiErr.Message = fallback
		}
		return apiErr
	}
	return &APIError{Message: fallback, Err: err}
}

// TokenSource supplies and updates the session tokens. *auth.Vault satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, access, refresh string) error
}

// Request describes one API exchange. Route, when set, is the path template
// used as the metrics label so room ids don't explode cardinality.
type Request struct {
	Method string
	Path   string
	Route  string
	Body   any
}

// Client performs authenticated JSON exchanges against the backend.
type Client struct {
	BaseURL     string
	RefreshPath string
	HTTPClient  *http.Client
	Tokens      TokenSource
	Logger      *slog.Logger
}

func NewClient(baseURL, refreshPath string, timeout time.Duration, tokens TokenSource, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		RefreshPath: refreshPath,
		HTTPClient:  &http.Client{Timeout: timeout},
		Tokens:      tokens,
		Logger:      logger,
	}
}

// Get issues a GET and decodes the JSON response.
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST with a JSON body and decodes the JSON response.
func (c *Client) Post(ctx context.Context, path string, body any) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Do performs the exchange. On a 401 (other than the refresh endpoint itself)
// it attempts one refresh-token exchange and retries the original request
// once with the new token; when the refresh fails, the original 401 error is
// surfaced unchanged.
func (c *Client) Do(ctx context.Context, req Request) (any, error) {
	payload, err := c.exchange(ctx, req)
	if err == nil {
		return payload, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || req.Path == c.RefreshPath {
		return nil, err
	}
	if refreshErr := c.refresh(ctx); refreshErr != nil {
		c.Logger.Warn("token refresh failed", "error", refreshErr)
		return nil, err
	}
	return c.exchange(ctx, req)
}

func (c *Client) exchange(ctx context.Context, req Request) (any, error) {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.BaseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Tokens != nil {
		token, err := c.Tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	route := req.Route
	if route == "" {
		route = req.Path
	}
	start := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		c.observe(req.Method, route, "error", start)
		return nil, &APIError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(req.Method, route, "error", start)
		return nil, &APIError{Status: resp.StatusCode, Err: err}
	}
	c.observe(req.Method, route, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Message: extractMessage(raw),
			Err:     fmt.Errorf("%s %s: status %d", req.Method, req.Path, resp.StatusCode),
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return payload, nil
}

// refresh exchanges the stored refresh token for new tokens.
func (c *Client) refresh(ctx context.Context) error {
	observability.TokenRefreshesTotal.Inc()
	if c.Tokens == nil {
		return errors.New("no token source")
	}
	refreshToken, err := c.Tokens.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if refreshToken == "" {
		return errors.New("no refresh token stored")
	}
	payload, err := c.exchange(ctx, Request{
		Method: http.MethodPost,
		Path:   c.RefreshPath,
		Body:   map[string]string{"refreshToken": refreshToken},
	})
	if err != nil {
		return err
	}
	access, refresh := extractTokens(payload)
	if access == "" {
		return errors.New("refresh response carried no access token")
	}
	return c.Tokens.SetTokens(ctx, access, refresh)
}

func (c *Client) observe(method, route, status string, start time.Time) {
	observability.APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	observability.APIRequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
}

// extractMessage pulls a human-readable error message out of an error body:
// a JSON object's message field, or a bare string body.
func extractMessage(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return strings.TrimSpace(string(trimmed))
	}
	return ""
}

// extractTokens tolerates the token field variants seen across backends.
func extractTokens(payload any) (access, refresh string) {
	rec, _ := payload.(map[string]any)
	if rec == nil {
		return "", ""
	}
	pickToken := func(rec map[string]any, keys ...string) string {
		for _, k := range keys {
			if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
		return ""
	}
	access = pickToken(rec, "accessToken", "token")
	refresh = pickToken(rec, "refreshToken")
	if data, ok := rec["data"].(map[string]any); ok {
		if access == "" {
			access = pickToken(data, "accessToken", "token")
		}
		if refresh == "" {
			refresh = pickToken(data, "refreshToken")
		}
	}
	return access, refresh
}

// BuildRoomURL substitutes roomID into a path template. Templates may carry
// an :id or {id} placeholder; with neither, the id becomes a trailing path
// segment.
func BuildRoomURL(template, roomID string) string {
	if strings.Contains(template, ":id") {
		return strings.Replace(template, ":id", roomID, 1)
	}
	if strings.Contains(template, "{id}") {
		return strings.Replace(template, "{id}", roomID, 1)
	}
	return strings.TrimRight(template, "/") + "/" + roomID
}
