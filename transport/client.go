package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smaxtec/sxapi/apierr"
)

const (
	defaultUserAgent = "sxapi-go/0.12"
	defaultTimeout   = 30 * time.Second
	maxErrorBody     = 512
)

var versionSegment = regexp.MustCompile(`/[vV][0-9]+/`)

// TokenSource provides a bearer token that is valid at call time.
// *session.Manager implements it.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// Client performs authenticated JSON calls against one API base URL and
// records every call in its Tracker.
type Client struct {
	baseURL     string
	tokens      TokenSource
	httpClient  *http.Client
	writeClient *http.Client
	tracker     *Tracker
	logger      zerolog.Logger
	userAgent   string
}

// New creates a Client for baseURL using tokens for authentication
func New(baseURL string, tokens TokenSource, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tracker:    NewTracker(DefaultTrackerCapacity),
		logger:     logger,
		userAgent:  defaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Writes must not be replayed against a redirect target.
	write := *c.httpClient
	write.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.writeClient = &write

	return c
}

// BaseURL returns the API root without trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tracker returns the call history
func (c *Client) Tracker() *Tracker {
	return c.tracker
}

// URL joins path onto the base URL and applies an optional version override
func (c *Client) URL(path, version string) string {
	u := c.baseURL + path
	if version != "" {
		u = versionSegment.ReplaceAllString(u, "/"+version+"/")
	}
	return u
}

// ResolveURL returns the URL a call to path with opts is sent to
func (c *Client) ResolveURL(path string, opts ...CallOption) string {
	return c.URL(path, applyCallOptions(opts).version)
}

// Get issues a GET with query params and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any, opts ...CallOption) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out, opts)
}

// Post sends body as JSON. Redirects are reported, not followed.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out, opts)
}

// Put sends body as JSON. Redirects are reported, not followed.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out, opts)
}

// Delete issues a DELETE with query params
func (c *Client) Delete(ctx context.Context, path string, params url.Values, out any, opts ...CallOption) error {
	return c.do(ctx, http.MethodDelete, path, params, nil, out, opts)
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}

// do runs one call: token, request, tracking, classification, decoding
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any, opts []CallOption) error {
	o := applyCallOptions(opts)
	endpoint := c.URL(path, o.version)

	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &apierr.ValidationError{Field: "body", Reason: err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	target := endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.httpClient
	if isWrite(method) {
		client = c.writeClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.track(method, endpoint, 0, start, requestID)
		return &apierr.ServerError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	c.track(method, endpoint, resp.StatusCode, start, requestID)
	if readErr != nil {
		return &apierr.ServerError{StatusCode: resp.StatusCode, URL: endpoint, Err: readErr}
	}

	if err := classify(method, endpoint, resp, data); err != nil {
		return err
	}

	return decode(endpoint, data, out)
}

func (c *Client) track(method, endpoint string, status int, start time.Time, requestID string) {
	end := time.Now()
	c.tracker.Record(TrackedRequest{
		Method:     method,
		URL:        endpoint,
		StatusCode: status,
		Start:      start,
		End:        end,
		RequestID:  requestID,
	})

	c.logger.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", status).
		Dur("duration", end.Sub(start)).
		Str("request_id", requestID).
		Msg("API request")
}

// classify maps a response status onto the error taxonomy
func classify(method, endpoint string, resp *http.Response, data []byte) error {
	status := resp.StatusCode

	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 300 && status < 400 && isWrite(method):
		return &apierr.RedirectError{
			Method:     method,
			URL:        endpoint,
			Location:   resp.Header.Get("Location"),
			StatusCode: status,
		}
	case status >= 400 && status < 500:
		return &apierr.ClientError{StatusCode: status, Message: errorMessage(data), URL: endpoint}
	case status >= 500:
		return &apierr.ServerError{StatusCode: status, URL: endpoint, Body: truncate(string(data), maxErrorBody)}
	default:
		// 1xx, or a 3xx the client did not follow (304, no Location)
		return &apierr.ServerError{
			StatusCode: status,
			URL:        endpoint,
			Body:       truncate(string(data), maxErrorBody),
			Err:        fmt.Errorf("unexpected status %d", status),
		}
	}
}

// errorMessage extracts the message field of a 4xx body
func errorMessage(data []byte) string {
	var body struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "unknown"
	}

	switch msg := body.Message.(type) {
	case nil:
		return "unknown"
	case string:
		if msg == "" {
			return "unknown"
		}
		return msg
	default:
		encoded, err := json.Marshal(msg)
		if err != nil {
			return "unknown"
		}
		return string(encoded)
	}
}

func decode(endpoint string, data []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &apierr.ProtocolError{URL: endpoint, Reason: "empty response body"}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apierr.ProtocolError{URL: endpoint, Reason: "failed to decode response", Err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
