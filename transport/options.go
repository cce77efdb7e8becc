package transport

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for GET and DELETE. POST and PUT
// use a copy of it that never follows redirects.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTracker shares a request tracker between clients.
func WithTracker(tracker *Tracker) Option {
	return func(c *Client) {
		if tracker != nil {
			c.tracker = tracker
		}
	}
}

// WithUserAgent sets a custom user agent string.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	version string
	timeout time.Duration
}

// Version rewrites the /vN/ segment of the call URL, for endpoints hosted on
// another API version.
func Version(version string) CallOption {
	return func(o *callOptions) {
		o.version = version
	}
}

// Timeout bounds the duration of a single call.
func Timeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = timeout
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
