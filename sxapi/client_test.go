package sxapi

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smaxtec/sxapi/apierr"
	"github.com/smaxtec/sxapi/dim"
	"github.com/smaxtec/sxapi/session"
)

const apiPrefix = "/api/v1"

// newPublic starts a fake public api serving routes below /api/v1
func newPublic(t *testing.T, creds session.Credentials, routes map[string]http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(apiPrefix+path, h)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		Endpoint:    server.URL + apiPrefix,
		Credentials: creds,
	}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func apiKey() session.Credentials {
	return session.Credentials{APIKey: "key-1"}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{Endpoint: "ftp://example.com"}, zerolog.Nop())
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = NewClient(ClientConfig{Endpoint: "/relative"}, zerolog.Nop())
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = NewClient(ClientConfig{ChunkDays: -1}, zerolog.Nop())
	assert.ErrorIs(t, err, apierr.ErrValidation)

	// missing credentials only fail on first use
	client, err := NewClient(ClientConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, PublicAPI, client.Transport().BaseURL())
}

func TestClient_InternRequiresConfiguration(t *testing.T) {
	client, err := NewClient(ClientConfig{Credentials: apiKey()}, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Intern()
	assert.ErrorIs(t, err, apierr.ErrNotSupported)

	client, err = NewClient(ClientConfig{
		InternEndpoint: "https://intern.example.com/internapi/v0",
		Credentials:    session.Credentials{Email: "a@b.c", Password: "x"},
	}, zerolog.Nop())
	require.NoError(t, err)
	_, err = client.Intern()
	assert.ErrorIs(t, err, apierr.ErrNotSupported)

	client, err = NewClient(ClientConfig{
		InternEndpoint: "https://intern.example.com/internapi/v0",
		Credentials:    apiKey(),
	}, zerolog.Nop())
	require.NoError(t, err)
	intern, err := client.Intern()
	require.NoError(t, err)
	assert.Same(t, client.Transport().Tracker(), intern.Transport().Tracker())
}

func TestClient_LoginFlow(t *testing.T) {
	var logins atomic.Int64
	client := newPublic(t, session.Credentials{Email: "farmer@example.com", Password: "pw"}, map[string]http.HandlerFunc{
		"/user/get_token": func(w http.ResponseWriter, r *http.Request) {
			logins.Add(1)
			writeJSON(t, w, map[string]string{"token": "tok-9"})
		},
		"/user": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-9", r.Header.Get("Authorization"))
			writeJSON(t, w, map[string]string{"_id": "u1", "email": "farmer@example.com"})
		},
		"/organisation": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []map[string]string{{"organisation_id": "o1", "name": "Farm"}})
		},
	})

	user, err := client.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserTypeEmail, user.Type)
	assert.Equal(t, "farmer@example.com", user.DisplayName())

	orgs, err := client.Organisations(context.Background())
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "o1", orgs[0].ID)

	assert.Equal(t, int64(1), logins.Load())
	// the login itself is not a tracked api call
	assert.Equal(t, 2, client.Transport().Tracker().Len())
}

func TestClient_APIKeySession(t *testing.T) {
	var hits atomic.Int64
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) { hits.Add(1) },
	})

	user, err := client.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserTypeAPIKey, user.Type)
	assert.Equal(t, "apikey_user", user.DisplayName())

	orgs, err := client.Organisations(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, orgs)
	assert.Empty(t, orgs)
	assert.Equal(t, int64(0), hits.Load())
}

func TestClient_MissingCredentials(t *testing.T) {
	var hits atomic.Int64
	client := newPublic(t, session.Credentials{}, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) { hits.Add(1) },
	})

	_, err := client.Status(context.Background())
	assert.ErrorIs(t, err, apierr.ErrCredentials)
	assert.Equal(t, int64(0), hits.Load())
}

func TestClient_Documents(t *testing.T) {
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/service/status": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"status": "ok"})
		},
		"/animal/by_id": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "a1", r.URL.Query().Get("animal_id"))
			w.Write([]byte(`{"_id": "a1", "name": "Berta", "mark": "AT123",
				"lactations": [{"number": 1, "calving_date": 1600000000}, {"number": 2, "calving_date": null}]}`))
		},
		"/device/by_id": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]string{"_id": r.URL.Query().Get("device_id"), "name": "bolus"})
		},
		"/animal/ids_by_organisation": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "o1", r.URL.Query().Get("organisation_id"))
			writeJSON(t, w, []map[string]string{{"_id": "a1"}, {"_id": "a2"}})
		},
	})
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", status["status"])

	animal, err := client.AnimalByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Berta", animal.Name)
	assert.Equal(t, AnimalID("a1"), animal.Subject())
	assert.Equal(t, []time.Time{time.Unix(1600000000, 0).UTC()}, animal.CalvingDates())

	device, err := client.DeviceByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, DeviceID("d1"), device.Subject())

	ids, err := client.OrganisationAnimalIDs(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)

	assert.Equal(t, "4 Requests", client.Stats()[0])
}

func TestClient_SensorDataChunks(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 250)

	var windows [][2]int64
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/data/query": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "d1", q.Get("device_id"))
			assert.Empty(t, q.Get("animal_id"))
			assert.Equal(t, "temp", q.Get("metric"))

			f, _ := strconv.ParseInt(q.Get("from_date"), 10, 64)
			tt, _ := strconv.ParseInt(q.Get("to_date"), 10, 64)
			windows = append(windows, [2]int64{f, tt})
			writeJSON(t, w, map[string]any{"data": [][2]float64{{float64(f), 38.5}, {float64(tt), 39.0}}})
		},
	})

	points, err := client.SensorData(context.Background(), DeviceID("d1"), SensorDataQuery{Metric: "temp", From: from, To: to})
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, from.Unix(), windows[0][0])
	assert.Equal(t, to.Unix(), windows[2][1])
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1][1]+1, windows[i][0])
	}

	require.Len(t, points, 6)
	assert.Equal(t, from, points[0].Time())
	assert.Equal(t, 38.5, points[0].Value)
}

func TestClient_SensorDataDefaultsAndErrors(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		assert.Equal(t, strconv.FormatInt(now.AddDate(0, 0, -30).Unix(), 10), q.Get("from_date"))
		assert.Equal(t, strconv.FormatInt(now.Add(24*time.Hour).Unix(), 10), q.Get("to_date"))
		assert.Equal(t, "a1", q.Get("animal_id"))
		w.Write([]byte(`{"data": [[1717243200, null]]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Endpoint:    server.URL,
		Credentials: apiKey(),
		Clock:       func() time.Time { return now },
	}, zerolog.Nop())
	require.NoError(t, err)

	points, err := client.SensorData(context.Background(), AnimalID("a1"), SensorDataQuery{Metric: "act"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, math.IsNaN(points[0].Value))
	assert.Equal(t, int64(1), calls.Load())

	_, err = client.SensorData(context.Background(), AnimalID("a1"), SensorDataQuery{})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = client.SensorData(context.Background(), AnimalID(""), SensorDataQuery{Metric: "act"})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = client.SensorData(context.Background(), AnimalID("a1"), SensorDataQuery{Metric: "act", From: now, To: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, apierr.ErrInvalidRange)
	assert.Equal(t, int64(1), calls.Load())
}

func TestClient_SensorDataErrorDiscardsPartial(t *testing.T) {
	var calls atomic.Int64
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/data/query": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"data": [[1, 2]]}`))
		},
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points, err := client.SensorData(context.Background(), AnimalID("a1"), SensorDataQuery{Metric: "temp", From: from, To: from.AddDate(1, 0, 0)})
	assert.ErrorIs(t, err, apierr.ErrServer)
	assert.Nil(t, points)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_EventsPaginate(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/event/query": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "a1", q.Get("animal_id"))
			assert.Equal(t, strconv.FormatInt(from.Unix(), 10), q.Get("from_date"))
			assert.False(t, q.Has("to_date"))
			assert.Equal(t, "100", q.Get("limit"))

			offset, _ := strconv.Atoi(q.Get("offset"))
			n := 100
			if offset == 100 {
				n = 5
			}
			events := make([]map[string]any, n)
			for i := range events {
				events[i] = map[string]any{"_id": strconv.Itoa(offset + i), "event_type": "heat", "timestamp": 1700000000 + offset + i}
			}
			writeJSON(t, w, map[string]any{"data": events, "pagination": map[string]int{"next_offset": offset + n}})
		},
	})

	events, err := client.Events(context.Background(), AnimalID("a1"), EventQuery{From: &from})
	require.NoError(t, err)
	require.Len(t, events, 105)
	assert.Equal(t, "104", events[104].ID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), events[0].Timestamp.Time)
}

func TestClient_OrganisationEvents(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/event/by_organisation": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "o1", q.Get("organisation_id"))
			assert.Equal(t, []string{"health", "heat"}, q["categories"])
			writeJSON(t, w, map[string]any{"data": []map[string]any{{"_id": "e1"}}})
		},
	})

	events, err := client.OrganisationEvents(context.Background(), "o1", OrganisationEventQuery{
		From: from, To: from.AddDate(0, 1, 0), Categories: []string{"health", "heat"},
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = client.OrganisationEvents(context.Background(), "o1", OrganisationEventQuery{From: from})
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestClient_Annotations(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/annotation/query": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "lameness", q.Get("annotation_class"))
			assert.False(t, q.Has("animal_id"))
			writeJSON(t, w, map[string]any{"data": []map[string]any{{"_id": "n1", "ts": from.Unix(), "end_ts": to.Unix()}}})
		},
		"/annotation/animal": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "a1", body["animal_id"])
			assert.Equal(t, float64(from.Unix()), body["ts"])
			assert.NotContains(t, body, "attributes")
			writeJSON(t, w, map[string]any{"_id": "n2", "animal_id": "a1"})
		},
		"/annotation/id": func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				writeJSON(t, w, map[string]any{"_id": r.URL.Query().Get("annotation_id")})
				return
			}
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]any{"annotation_id": "n1", "classes": []any{"healthy"}}, body)
			writeJSON(t, w, map[string]any{"_id": "n1", "classes": []string{"healthy"}})
		},
	})
	ctx := context.Background()

	list, err := client.Annotations(ctx, AnnotationQuery{Class: "lameness", From: from, To: to})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, to, list[0].End.Time)

	_, err = client.Annotations(ctx, AnnotationQuery{AnimalID: "a1", Class: "x", From: from, To: to})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	created, err := client.InsertAnimalAnnotation(ctx, NewAnnotation{AnimalID: "a1", Start: from, End: to, Classes: []string{"lameness"}})
	require.NoError(t, err)
	assert.Equal(t, "n2", created.ID)

	updated, err := client.UpdateAnnotation(ctx, "n1", AnnotationUpdate{Classes: []string{"healthy"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"healthy"}, updated.Classes)

	got, err := client.AnnotationByID(ctx, "n9")
	require.NoError(t, err)
	assert.Equal(t, "n9", got.ID)
}

func TestClient_TestSets(t *testing.T) {
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/annotation/testset": func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut:
				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "set-a", body["name"])
				assert.Equal(t, []any{}, body["annotation_ids"])
				writeJSON(t, w, map[string]any{"_id": "t1", "name": "set-a"})
			case http.MethodPost:
				writeJSON(t, w, map[string]any{"_id": "t1", "annotation_ids": []string{"n1"}})
			default:
				writeJSON(t, w, map[string]any{"_id": r.URL.Query().Get("testset_id")})
			}
		},
		"/annotation/testset/by_name": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"_id": "t1", "name": r.URL.Query().Get("name")})
		},
	})
	ctx := context.Background()

	set, err := client.InsertTestSet(ctx, "set-a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", set.ID)

	set, err = client.UpdateTestSet(ctx, "t1", []string{"n1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, set.AnnotationIDs)

	set, err = client.TestSetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", set.ID)

	set, err = client.TestSetByName(ctx, "set-a")
	require.NoError(t, err)
	assert.Equal(t, "set-a", set.Name)

	_, err = client.InsertTestSet(ctx, "", nil, nil)
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestClient_OrganisationTimezoneMemoised(t *testing.T) {
	var calls atomic.Int64
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/organisation/by_id": func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			id := r.URL.Query().Get("organisation_id")
			if id == "missing" {
				w.WriteHeader(http.StatusNotFound)
				writeJSON(t, w, map[string]string{"message": "no such organisation"})
				return
			}
			writeJSON(t, w, map[string]string{"_id": id, "timezone": "Europe/Vienna"})
		},
	})
	ctx := context.Background()

	for range 3 {
		tz, err := client.OrganisationTimezone(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, "Europe/Vienna", tz)
	}
	assert.Equal(t, int64(1), calls.Load())

	loc, err := client.OrganisationLocation(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Vienna", loc.String())
	assert.Equal(t, int64(1), calls.Load())

	// failures are not cached
	for range 2 {
		_, err = client.OrganisationTimezone(ctx, "missing")
		var ce *apierr.ClientError
		require.ErrorAs(t, err, &ce)
		assert.True(t, ce.IsNotFound())
	}
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_AnimalDIM(t *testing.T) {
	calving := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	client := newPublic(t, apiKey(), map[string]http.HandlerFunc{
		"/animal/by_id": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{
				"_id":        "a1",
				"lactations": []map[string]any{{"number": 1, "calving_date": calving.Unix()}},
			})
		},
	})

	samples, err := client.AnimalDIM(context.Background(), "a1", calving.AddDate(0, 0, -2), calving.AddDate(0, 0, 2), 24*time.Hour)
	require.NoError(t, err)

	got := make([]float64, len(samples))
	for i, s := range samples {
		got[i] = s.DIM
	}
	assert.Equal(t, []float64{dim.NoCalving, dim.NoCalving, 0, 1, 2}, got)
}
