package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/genkeep/internal/control"
	"github.com/loykin/genkeep/internal/expect"
	"github.com/loykin/genkeep/internal/lease"
	"github.com/loykin/genkeep/internal/metrics"
	"github.com/loykin/genkeep/internal/notify"
	"github.com/loykin/genkeep/internal/runner"
	"github.com/loykin/genkeep/internal/watchdog"
)

type fixture struct {
	h     http.Handler
	ctl   *control.Controller
	run   *runner.Runner
	store *expect.Store
	tray  *notify.Tray
	sched *watchdog.Scheduler
}

func newFixture(tb testing.TB, base string) *fixture {
	tb.Helper()
	gin.SetMode(gin.TestMode)
	fx := &fixture{
		store: expect.New(expect.NewMemoryKV(), ""),
		tray:  notify.NewTray(),
		sched: watchdog.NewScheduler(watchdog.SchedulerOptions{}),
	}
	fx.run = runner.New(runner.Options{
		Lease:             lease.NewMemoryLease(nil),
		Notifier:          fx.tray,
		Store:             fx.store,
		HeartbeatInterval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = fx.run.Run(ctx) }()
	tb.Cleanup(func() {
		cancel()
		<-fx.run.Done()
	})
	ctl, err := control.New(control.Options{
		Store:     fx.store,
		Runner:    fx.run,
		Scheduler: fx.sched,
		Worker:    &watchdog.Worker{Store: fx.store, Probe: watchdog.RunnerProbe{Runner: fx.run}, Starter: fx.run},
	})
	if err != nil {
		tb.Fatalf("control: %v", err)
	}
	fx.ctl = ctl
	fx.h = NewRouter(ctl, fx.tray, base).WithMetrics(metrics.Handler()).Handler()
	return fx
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) control.Status {
	t.Helper()
	var st control.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v: %s", err, rec.Body.String())
	}
	return st
}

func TestProgressEmptyBodyUsesDefaults(t *testing.T) {
	fx := newFixture(t, "/api")
	rec := doReq(t, fx.h, http.MethodPost, "/api/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	n, ok := fx.tray.Get(notify.DefaultID)
	if !ok {
		t.Fatal("expected notification on display")
	}
	if n.Title != control.DefaultTitle || n.Body != control.DefaultBody || n.Progress != 0 {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestProgressAndStatus(t *testing.T) {
	fx := newFixture(t, "/api")
	rec := doReq(t, fx.h, http.MethodPost, "/api/progress", map[string]any{"title": "T", "body": "B", "progress": 55})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	st := decodeStatus(t, doReq(t, fx.h, http.MethodGet, "/api/status", nil))
	if !st.Expectation.ShouldBeRunning || !st.Runner.Running {
		t.Fatalf("expected running: %+v", st)
	}
	if st.Runner.Progress != 55 || st.Runner.Title != "T" {
		t.Fatalf("unexpected runner status: %+v", st.Runner)
	}
	if !st.WatchdogScheduled {
		t.Fatal("watchdog should be scheduled")
	}
}

func TestProgressInvalidJSON(t *testing.T) {
	fx := newFixture(t, "")
	req := httptest.NewRequest(http.MethodPost, "/progress", strings.NewReader(`{"progress":"high"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if fx.tray.Len() != 0 {
		t.Fatal("rejected request must not show a notification")
	}
}

func TestStopTwice(t *testing.T) {
	fx := newFixture(t, "/api")
	doReq(t, fx.h, http.MethodPost, "/api/progress", map[string]any{"progress": 10})
	for i := 0; i < 2; i++ {
		if rec := doReq(t, fx.h, http.MethodPost, "/api/stop", nil); rec.Code != http.StatusOK {
			t.Fatalf("stop %d: expected 200, got %d", i, rec.Code)
		}
	}
	if fx.tray.Len() != 0 {
		t.Fatal("notification should be removed")
	}
	st := decodeStatus(t, doReq(t, fx.h, http.MethodGet, "/api/status", nil))
	if st.Expectation.ShouldBeRunning || st.Runner.Running || st.WatchdogScheduled {
		t.Fatalf("expected everything stopped: %+v", st)
	}
}

func TestExclusionAccepted(t *testing.T) {
	fx := newFixture(t, "/api")
	rec := doReq(t, fx.h, http.MethodPost, "/api/exclusion", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	fx.ctl.Wait()
}

func TestWatchdogCheckRevives(t *testing.T) {
	fx := newFixture(t, "/api")
	title, body := "T", "B"
	if err := fx.store.Set(context.Background(), true, &title, &body); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec := doReq(t, fx.h, http.MethodPost, "/api/watchdog/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp checkResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != string(watchdog.OutcomeRestarted) {
		t.Fatalf("outcome = %q", resp.Outcome)
	}
	n, ok := fx.tray.Get(notify.DefaultID)
	if !ok || n.Title != "T" || n.Body != "B" {
		t.Fatalf("expected restored notification, got %+v %v", n, ok)
	}
}

func TestMetricsMounted(t *testing.T) {
	fx := newFixture(t, "/api")
	if rec := doReq(t, fx.h, http.MethodGet, "/api/metrics", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEventsDisabledWithoutTray(t *testing.T) {
	fx := newFixture(t, "")
	h := NewRouter(fx.ctl, nil, "").Handler()
	if rec := doReq(t, h, http.MethodGet, "/events", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	fx := newFixture(t, "/api")
	srv := httptest.NewServer(fx.h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := http.Post(srv.URL+"/api/progress", "application/json", strings.NewReader(`{"title":"T","body":"B","progress":40}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != notify.EventShown || ev.Notification.Progress != 40 || ev.Notification.Title != "T" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	resp, err = http.Post(srv.URL+"/api/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != notify.EventRemoved {
		t.Fatalf("expected removed event, got %+v", ev)
	}
}

func TestEventsSnapshotOnConnect(t *testing.T) {
	fx := newFixture(t, "")
	doReq(t, fx.h, http.MethodPost, "/progress", map[string]any{"progress": 70})
	srv := httptest.NewServer(fx.h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Notification.Progress != 70 {
		t.Fatalf("expected snapshot at 70, got %+v", ev)
	}
}

func TestNewServerBindError(t *testing.T) {
	fx := newFixture(t, "")
	if _, err := NewServer("256.0.0.1:99999", NewRouter(fx.ctl, fx.tray, "")); err == nil {
		t.Fatal("expected listen error")
	}
}
