package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smaxtec/sxapi/apierr"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int64
}

func (s *staticTokens) EnsureValid(context.Context) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL+"/api/v2", &staticTokens{token: "tok"}, zerolog.Nop()), server
}

func TestClient_GetDecodesAndAuthenticates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/animals/a1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "x", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]string{"_id": "a1"})
	})

	var out struct {
		ID string `json:"_id"`
	}
	err := client.Get(context.Background(), "/animals/a1", url.Values{"q": {"x"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "a1", out.ID)

	reqs := client.Tracker().Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.StatusOK, reqs[0].StatusCode)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.NotContains(t, reqs[0].URL, "q=x")
	assert.NotEmpty(t, reqs[0].RequestID)
}

func TestClient_PostSendsJSON(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "note", body["name"])
		w.Write([]byte(`{"ok": true}`))
	})

	var out map[string]bool
	err := client.Post(context.Background(), "/annotation", map[string]string{"name": "note"}, &out)
	require.NoError(t, err)
	assert.True(t, out["ok"])
}

func TestClient_VersionOverride(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/organisation/list", r.URL.Path)
		w.Write([]byte(`{}`))
	})

	err := client.Get(context.Background(), "/organisation/list", nil, nil, Version("v1"))
	require.NoError(t, err)
}

func TestClient_URL(t *testing.T) {
	c := New("https://api.example.com/api/v2/", &staticTokens{}, zerolog.Nop())

	assert.Equal(t, "https://api.example.com/api/v2/status", c.URL("/status", ""))
	assert.Equal(t, "https://api.example.com/api/v1/status", c.URL("/status", "v1"))
	assert.Equal(t, "https://api.example.com/api/v2", c.BaseURL())
	assert.Equal(t, "https://api.example.com/api/v1/status", c.ResolveURL("/status", Version("v1"), Timeout(time.Second)))
	assert.Equal(t, "https://api.example.com/api/v2/status", c.ResolveURL("/status"))
}

func TestClient_ClientErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusUnauthorized, `{"message": "token expired"}`, "token expired"},
		{"missing message", http.StatusBadRequest, `{"error": "x"}`, "unknown"},
		{"non json", http.StatusNotFound, `not found`, "unknown"},
		{"structured message", http.StatusUnprocessableEntity, `{"message": {"from_date": "required"}}`, `{"from_date":"required"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			err := client.Get(context.Background(), "/x", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, apierr.ErrClient)

			var ce *apierr.ClientError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.status, ce.StatusCode)
			assert.Equal(t, tt.message, ce.Message)

			// the failed call is still tracked
			reqs := client.Tracker().Requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.status, reqs[0].StatusCode)
		})
	}
}

func TestClient_Unauthorized(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "invalid token"}`))
	})

	err := client.Get(context.Background(), "/user", nil, nil)
	var ce *apierr.ClientError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.IsUnauthorized())
	assert.Equal(t, "401 Error: invalid token", err.Error())
}

func TestClient_RedirectOnWrite(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			var targetHits atomic.Int64
			mux := http.NewServeMux()
			mux.HandleFunc("/api/v2/other", func(w http.ResponseWriter, r *http.Request) {
				targetHits.Add(1)
				w.Write([]byte(`{}`))
			})
			mux.HandleFunc("/api/v2/event", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/api/v2/other", http.StatusMovedPermanently)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			client := New(server.URL+"/api/v2", &staticTokens{token: "tok"}, zerolog.Nop())

			var err error
			if method == http.MethodPut {
				err = client.Put(context.Background(), "/event", map[string]string{"a": "b"}, nil)
			} else {
				err = client.Post(context.Background(), "/event", map[string]string{"a": "b"}, nil)
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apierr.ErrRedirect)

			var re *apierr.RedirectError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, http.StatusMovedPermanently, re.StatusCode)
			assert.Equal(t, "/api/v2/other", re.Location)
			assert.Equal(t, int64(0), targetHits.Load())
			assert.Equal(t, 1, client.Tracker().Len())
		})
	}
}

func TestClient_GetFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"moved": true}`))
	})
	mux.HandleFunc("/api/v2/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v2/new", http.StatusMovedPermanently)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := New(server.URL+"/api/v2", &staticTokens{token: "tok"}, zerolog.Nop())

	var out map[string]bool
	require.NoError(t, client.Get(context.Background(), "/old", nil, &out))
	assert.True(t, out["moved"])
}

func TestClient_ServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	err := client.Delete(context.Background(), "/event/e1", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrServer)

	var se *apierr.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "upstream down", se.Body)
}

func TestClient_UnfollowedStatusIsServerError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not modified", http.StatusNotModified},
		{"redirect without location", http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			err := client.Get(context.Background(), "/x", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, apierr.ErrServer)
			assert.NotErrorIs(t, err, apierr.ErrProtocol)

			var se *apierr.ServerError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, 1, client.Tracker().Len())
		})
	}
}

func TestClient_NetworkFailureIsTracked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close()

	client := New(base, &staticTokens{token: "tok"}, zerolog.Nop())
	err := client.Get(context.Background(), "/status", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrServer)

	reqs := client.Tracker().Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 0, reqs[0].StatusCode)
}

func TestClient_TokenFailureShortCircuits(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	tokens := &staticTokens{err: &apierr.CredentialError{Reason: "no credentials configured"}}
	client := New(server.URL, tokens, zerolog.Nop())

	err := client.Get(context.Background(), "/status", nil, nil)
	assert.ErrorIs(t, err, apierr.ErrCredentials)
	assert.Equal(t, int64(0), hits.Load())
	assert.Equal(t, 0, client.Tracker().Len())
	assert.Equal(t, int64(1), tokens.calls.Load())
}

func TestClient_Timeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	err := client.Get(context.Background(), "/slow", nil, nil, Timeout(20*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrServer)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			var out map[string]any
			err := client.Get(context.Background(), "/x", nil, &out)
			assert.ErrorIs(t, err, apierr.ErrProtocol)
		})
	}
}

func TestClient_UnmarshalableBody(t *testing.T) {
	var hits atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	err := client.Put(context.Background(), "/x", map[string]any{"bad": make(chan int)}, nil)
	assert.ErrorIs(t, err, apierr.ErrValidation)
	assert.Equal(t, int64(0), hits.Load())
}

func TestClient_SharedTracker(t *testing.T) {
	tracker := NewTracker(10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	a := New(server.URL, &staticTokens{token: "a"}, zerolog.Nop(), WithTracker(tracker))
	b := New(server.URL, &staticTokens{token: "b"}, zerolog.Nop(), WithTracker(tracker))

	require.NoError(t, a.Get(context.Background(), "/a", nil, nil))
	require.NoError(t, b.Get(context.Background(), "/b", nil, nil))
	assert.Equal(t, 2, tracker.Len())
	assert.Same(t, a.Tracker(), b.Tracker())
}
