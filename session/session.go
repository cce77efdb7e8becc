package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/smaxtec/sxapi/apierr"
)

const (
	// DefaultTokenTTL stays an hour below the server's 24h token lifetime
	DefaultTokenTTL = 23 * time.Hour
	// DefaultAPIKeyTTL is the validity assumed for a configured api key
	DefaultAPIKeyTTL = 365 * 24 * time.Hour

	loginPath = "/user/get_token"
)

// Credentials holds either an api key or an email/password pair.
type Credentials struct {
	Email    string
	Password string
	APIKey   string
}

// HasAPIKey reports whether an api key is configured
func (c Credentials) HasAPIKey() bool {
	return c.APIKey != ""
}

// HasLogin reports whether a complete email/password pair is configured
func (c Credentials) HasLogin() bool {
	return c.Email != "" && c.Password != ""
}

// Valid reports whether at least one complete authentication method is present
func (c Credentials) Valid() bool {
	return c.HasAPIKey() || c.HasLogin()
}

// String never prints secrets.
func (c Credentials) String() string {
	switch {
	case c.HasAPIKey():
		return "api_key(****)"
	case c.Email != "":
		return fmt.Sprintf("email(%s)", c.Email)
	default:
		return "none"
	}
}

// Session is the current token and the instant it stops being presented.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the token may still be used at now
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.ExpiresAt)
}

// Manager owns the credentials and the token lifecycle. It is safe for
// concurrent use; concurrent callers observing an expired token share a
// single refresh.
type Manager struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
	tokenTTL   time.Duration
	apiKeyTTL  time.Duration

	mu      sync.RWMutex
	current Session
	group   singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for the login call.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTokenTTL sets how long a token from a password login is used.
func WithTokenTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.tokenTTL = ttl
		}
	}
}

// WithAPIKeyTTL sets how long an api key is presented before it is re-adopted.
func WithAPIKeyTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.apiKeyTTL = ttl
		}
	}
}

// New creates a session manager for the API rooted at baseURL.
func New(baseURL string, creds Credentials, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
		tokenTTL:   DefaultTokenTTL,
		apiKeyTTL:  DefaultAPIKeyTTL,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Credentials returns the configured credentials
func (m *Manager) Credentials() Credentials {
	return m.creds
}

// Session returns a snapshot of the current session
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// EnsureValid returns a token that is valid now, logging in if necessary.
// A valid token is returned without any network call.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	if s := m.Session(); s.Valid(m.now()) {
		return s.Token, nil
	}

	// The flight outlives the caller that started it; each caller only stops
	// waiting on its own cancellation. The login stays bounded by the HTTP
	// client timeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("refresh", func() (any, error) {
		// A previous flight may have finished between our check and DoChan.
		if s := m.Session(); s.Valid(m.now()) {
			return s.Token, nil
		}
		return m.refresh(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.logger.Trace().Msg("Reused concurrent session refresh")
		}
		return res.Val.(string), nil
	}
}

// refresh adopts the api key or performs a password login and stores the result
func (m *Manager) refresh(ctx context.Context) (string, error) {
	if m.creds.HasAPIKey() {
		m.store(Session{Token: m.creds.APIKey, ExpiresAt: m.now().Add(m.apiKeyTTL)})
		m.logger.Debug().Msg("Using api key as session token")
		return m.creds.APIKey, nil
	}

	if !m.creds.HasLogin() {
		return "", &apierr.CredentialError{Reason: "email and password or api key are needed for API access"}
	}

	token, err := m.login(ctx)
	if err != nil {
		return "", err
	}

	expires := m.now().Add(m.tokenTTL)
	m.store(Session{Token: token, ExpiresAt: expires})

	m.logger.Info().
		Str("email", m.creds.Email).
		Time("expires_at", expires).
		Msg("Session token refreshed")

	return token, nil
}

func (m *Manager) store(s Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

type tokenResponse struct {
	Token string `json:"token"`
}

// login exchanges email and password for a token
func (m *Manager) login(ctx context.Context) (string, error) {
	endpoint := m.baseURL + loginPath
	params := url.Values{
		"email":    {m.creds.Email},
		"password": {m.creds.Password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	m.logger.Debug().Str("email", m.creds.Email).Msg("Requesting session token")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL including the password.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", &apierr.ServerError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &apierr.ServerError{StatusCode: resp.StatusCode, URL: endpoint, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return "", &apierr.CredentialError{Reason: "invalid login credentials", StatusCode: resp.StatusCode}
	default:
		return "", &apierr.ServerError{StatusCode: resp.StatusCode, URL: endpoint, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &apierr.ProtocolError{URL: endpoint, Reason: "failed to decode token response", Err: err}
	}
	if tr.Token == "" {
		return "", &apierr.ProtocolError{URL: endpoint, Reason: "token missing from login response"}
	}

	return tr.Token, nil
}
