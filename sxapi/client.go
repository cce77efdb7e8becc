package sxapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smaxtec/sxapi/apierr"
	"github.com/smaxtec/sxapi/session"
	"github.com/smaxtec/sxapi/transport"
)

const (
	// PublicAPI is the default public endpoint
	PublicAPI = "https://api.smaxtec.com/api/v1"

	// DefaultChunkDays is the widest range one sensor data request may span
	DefaultChunkDays = 100

	writeTimeout = 25 * time.Second
	bulkTimeout  = 15 * time.Second
)

// ClientConfig configures the public API client. Only Credentials is
// required.
type ClientConfig struct {
	Endpoint       string // defaults to PublicAPI
	InternEndpoint string // enables Intern when set together with an api key
	Credentials    session.Credentials
	Timeout        time.Duration // per HTTP call, 30s when zero
	PageSize       int           // pagination limit, 100 when zero
	ChunkDays      int           // sensor data window, 100 when zero
	HTTPClient     *http.Client
	Tracker        *transport.Tracker // shared call history, own tracker when nil
	Timezones      *TimezoneCache     // shared timezone map, own cache when nil
	Clock          func() time.Time
}

// Client is the public API client. It is safe for concurrent use.
type Client struct {
	session   *session.Manager
	transport *transport.Client
	intern    *InternClient
	timezones *TimezoneCache
	logger    zerolog.Logger
	pageSize  int
	chunkDays int
	now       func() time.Time
}

// NewClient creates a public API client. No request is made until the first
// call; missing or rejected credentials surface as apierr.CredentialError
// then.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = PublicAPI
	}
	if err := checkEndpoint(endpoint); err != nil {
		return nil, err
	}

	if cfg.PageSize < 0 {
		return nil, &apierr.ValidationError{Field: "page_size", Reason: "must not be negative"}
	}
	if cfg.ChunkDays < 0 {
		return nil, &apierr.ValidationError{Field: "chunk_days", Reason: "must not be negative"}
	}

	c := &Client{
		timezones: cfg.Timezones,
		logger:    logger,
		pageSize:  cfg.PageSize,
		chunkDays: cfg.ChunkDays,
		now:       cfg.Clock,
	}
	if c.timezones == nil {
		c.timezones = NewTimezoneCache()
	}
	if c.chunkDays == 0 {
		c.chunkDays = DefaultChunkDays
	}
	if c.now == nil {
		c.now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	sessOpts := []session.Option{session.WithHTTPClient(httpClient)}
	if cfg.Clock != nil {
		sessOpts = append(sessOpts, session.WithClock(cfg.Clock))
	}
	c.session = session.New(endpoint, cfg.Credentials, logger, sessOpts...)

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = transport.NewTracker(transport.DefaultTrackerCapacity)
	}
	c.transport = transport.New(endpoint, c.session, logger,
		transport.WithHTTPClient(httpClient),
		transport.WithTracker(tracker),
	)

	if cfg.InternEndpoint != "" && cfg.Credentials.HasAPIKey() {
		intern, err := NewInternClient(cfg.InternEndpoint, cfg.Credentials.APIKey, logger,
			transport.WithHTTPClient(httpClient),
			transport.WithTracker(tracker),
		)
		if err != nil {
			return nil, err
		}
		c.intern = intern
	}

	logger.Debug().
		Str("endpoint", endpoint).
		Str("credentials", cfg.Credentials.String()).
		Bool("intern", c.intern != nil).
		Msg("Created sxapi client")

	return c, nil
}

// Intern returns the intern API client configured alongside this one
func (c *Client) Intern() (*InternClient, error) {
	if c.intern == nil {
		return nil, apierr.NotSupported("intern api", "requires an intern endpoint and an api key")
	}
	return c.intern, nil
}

// Session returns the session manager
func (c *Client) Session() *session.Manager {
	return c.session
}

// Transport returns the underlying transport
func (c *Client) Transport() *transport.Client {
	return c.transport
}

// Timezones returns the organisation timezone map
func (c *Client) Timezones() *TimezoneCache {
	return c.timezones
}

// Stats renders the recorded call history
func (c *Client) Stats() []string {
	return c.transport.Tracker().Stats()
}

func checkEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return &apierr.ValidationError{Field: "endpoint", Reason: err.Error()}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &apierr.ValidationError{
			Field:  "endpoint",
			Reason: fmt.Sprintf("%q is not an absolute http(s) URL", strings.TrimSpace(endpoint)),
		}
	}
	return nil
}
