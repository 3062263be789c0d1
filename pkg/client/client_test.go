package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://127.0.0.1:8655/api", c.baseURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)

	c = New(Config{BaseURL: "http://h:1/x/"})
	assert.Equal(t, "http://h:1/x", c.baseURL)
}

func TestUpdateProgressSendsBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/progress", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	title, progress := "T", 55
	c := New(Config{BaseURL: srv.URL + "/api"})
	require.NoError(t, c.UpdateProgress(context.Background(), ProgressRequest{Title: &title, Progress: &progress}))
	assert.Equal(t, "T", got["title"])
	assert.EqualValues(t, 55, got["progress"])
	_, hasBody := got["body"]
	assert.False(t, hasBody, "unset fields are omitted")
}

func TestStatusDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"expectation":{"should_be_running":true,"last_title":"T","last_body":"B"},` +
			`"runner":{"state":"running","running":true,"lease":{"cpu_held":true,"network_held":true},"progress":40},` +
			`"watchdog_scheduled":true,"watchdog_interval":900000000000}`))
	}))
	defer srv.Close()

	st, err := New(Config{BaseURL: srv.URL}).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Expectation.ShouldBeRunning)
	assert.Equal(t, "T", st.Expectation.LastTitle)
	assert.True(t, st.Runner.Lease.CPUHeld)
	assert.Equal(t, 40, st.Runner.Progress)
	assert.Equal(t, 15*time.Minute, st.WatchdogInterval)
}

func TestCheckAndExclusion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watchdog/check":
			_, _ = w.Write([]byte(`{"outcome":"restarted"}`))
		case "/exclusion":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	res, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "restarted", res.Outcome)
	require.NoError(t, c.RequestExclusion(context.Background()))
}

func TestErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/stop") {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"runner shutting down"}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner shutting down")

	_, err = c.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	c := New(Config{BaseURL: srv.URL})
	assert.True(t, c.IsReachable(context.Background()))
	srv.Close()
	assert.False(t, c.IsReachable(context.Background()))
}
