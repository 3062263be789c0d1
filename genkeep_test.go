package genkeep

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/genkeep/internal/notify"
	"github.com/loykin/genkeep/internal/watchdog"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Store.DSN = "memory://"
	c.Lease.Backend = "memory"
	c.Power.Backend = "none"
	c.Notify.Systemd = false
	c.Notify.Log = false
	c.Server.Enabled = false
	return c
}

func startDaemon(t *testing.T, c *Config) (*Daemon, func()) {
	t.Helper()
	d, err := New(c)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return d, func() {
		cancel()
		require.NoError(t, <-done)
		d.Close()
	}
}

func ip(i int) *int { return &i }

func TestDaemonProgressAndStop(t *testing.T) {
	d, stop := startDaemon(t, testConfig(t))
	defer stop()
	ctx := context.Background()

	require.NoError(t, d.Controller().UpdateProgress(ctx, Request{Progress: ip(25)}))
	n, ok := d.Tray().Get(notify.DefaultID)
	require.True(t, ok)
	assert.Equal(t, 25, n.Progress)

	st := d.Controller().Status(ctx)
	assert.True(t, st.Runner.Running)
	assert.True(t, st.Runner.Lease.CPUHeld)
	assert.True(t, st.WatchdogScheduled)

	require.NoError(t, d.Controller().Stop(ctx))
	assert.Equal(t, 0, d.Tray().Len())
}

func TestDaemonResumesExpectedTask(t *testing.T) {
	c := testConfig(t)
	c.Store.DSN = "sqlite://" + t.TempDir() + "/genkeep.db"

	d, stop := startDaemon(t, c)
	title := "Generating"
	require.NoError(t, d.Controller().UpdateProgress(context.Background(), Request{Title: &title, Progress: ip(60)}))
	stop()

	// A fresh daemon over the same store brings the task back.
	d2, stop2 := startDaemon(t, c)
	defer stop2()
	require.Eventually(t, func() bool {
		n, ok := d2.Tray().Get(notify.DefaultID)
		return ok && n.Title == "Generating"
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, d2.Controller().Status(context.Background()).WatchdogScheduled)
}

func TestDaemonApplyReload(t *testing.T) {
	d, stop := startDaemon(t, testConfig(t))
	defer stop()
	require.NoError(t, d.Controller().UpdateProgress(context.Background(), Request{Progress: ip(1)}))

	next := *d.Config()
	next.Watchdog.Interval = 2 * watchdog.DefaultInterval
	next.Log.Slog.Level = "debug"
	d.Apply(&next)

	assert.Equal(t, 2*watchdog.DefaultInterval, d.Controller().Status(context.Background()).WatchdogInterval)
	assert.True(t, d.Logger().Enabled(context.Background(), slog.LevelDebug))
}

func TestDaemonApplyReloadsHistory(t *testing.T) {
	d, stop := startDaemon(t, testConfig(t))
	defer stop()
	require.Equal(t, 0, d.history.Len())

	next := *d.Config()
	next.History.DSNs = []string{"sqlite://" + filepath.Join(t.TempDir(), "history.db")}
	d.Apply(&next)
	assert.Equal(t, 1, d.history.Len())
	assert.Equal(t, next.History.DSNs, d.Config().History.DSNs)

	bad := *d.Config()
	bad.History.DSNs = []string{"kafka://broker"}
	d.Apply(&bad)
	assert.Equal(t, 1, d.history.Len(), "failed reload keeps the current sinks")

	cleared := *d.Config()
	cleared.History.DSNs = nil
	d.Apply(&cleared)
	assert.Equal(t, 0, d.history.Len())
}

func TestNewRejectsUnknownStore(t *testing.T) {
	c := testConfig(t)
	c.Store.DSN = "redis://localhost"
	_, err := New(c)
	assert.Error(t, err)
}

func TestNewHTTPServer(t *testing.T) {
	d, stop := startDaemon(t, testConfig(t))
	defer stop()
	require.NoError(t, RegisterMetrics(prometheus.NewRegistry()))

	srv, err := NewHTTPServer("127.0.0.1:0", "/api", d, true)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/api/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.False(t, st.Runner.Running)
}

func TestNewMetricsServer(t *testing.T) {
	srv, err := NewMetricsServer("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
