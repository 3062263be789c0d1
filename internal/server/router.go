package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/genkeep/internal/control"
	"github.com/loykin/genkeep/internal/notify"
	"github.com/loykin/genkeep/internal/runner"
)

// Router provides embeddable HTTP handlers for driving the task.
// Endpoints:
//   POST {basePath}/progress        body: {"title":..,"body":..,"progress":..} (all optional)
//   POST {basePath}/stop
//   POST {basePath}/exclusion       returns 202, the request runs in the background
//   GET  {basePath}/status
//   POST {basePath}/watchdog/check  runs one watchdog pass now
//   GET  {basePath}/events          websocket stream of notification changes
//   GET  {basePath}/metrics         only when a metrics handler is attached
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      *control.Controller
	tray     *notify.Tray
	basePath string
	notifID  int
	metrics  http.Handler
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewRouter constructs a new Router. tray may be nil, which disables /events.
func NewRouter(ctl *control.Controller, tray *notify.Tray, basePath string) *Router {
	return &Router{
		ctl:      ctl,
		tray:     tray,
		basePath: sanitizeBase(basePath),
		notifID:  notify.DefaultID,
		log:      slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local control socket: non-browser clients omit Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// WithMetrics mounts h at {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

func (r *Router) WithLogger(l *slog.Logger) *Router {
	if l != nil {
		r.log = l
	}
	return r
}

// WithNotificationID sets which notification a new /events subscriber
// receives as its initial snapshot.
func (r *Router) WithNotificationID(id int) *Router {
	r.notifID = id
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/progress", r.handleProgress)
	group.POST("/stop", r.handleStop)
	group.POST("/exclusion", r.handleExclusion)
	group.GET("/status", r.handleStatus)
	group.POST("/watchdog/check", r.handleCheck)
	group.GET("/events", r.handleEvents)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The listener is bound before returning so address errors surface here.
func NewServer(addr string, r *Router) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("http server stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type checkResp struct {
	Outcome string `json:"outcome"`
}

func (r *Router) handleProgress(c *gin.Context) {
	var req control.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.ctl.UpdateProgress(c.Request.Context(), req); err != nil {
		writeCommandError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.ctl.Stop(c.Request.Context()); err != nil {
		writeCommandError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleExclusion(c *gin.Context) {
	r.ctl.RequestBackgroundExclusion(c.Request.Context())
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status(c.Request.Context()))
}

func (r *Router) handleCheck(c *gin.Context) {
	out := r.ctl.Check(c.Request.Context())
	writeJSON(c, http.StatusOK, checkResp{Outcome: string(out)})
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.tray == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event stream not enabled"})
		return
	}
	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	events, unsubscribe := r.tray.Subscribe(64)
	defer unsubscribe()

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if n, ok := r.tray.Get(r.notifID); ok {
		if err := writeEvent(conn, notify.Event{Type: notify.EventShown, Notification: n}); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				r.log.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev notify.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(ev)
}

func writeCommandError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, runner.ErrShuttingDown):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusRequestTimeout
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}
