package genkeep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/genkeep/internal/config"
	"github.com/loykin/genkeep/internal/control"
	"github.com/loykin/genkeep/internal/expect"
	expfactory "github.com/loykin/genkeep/internal/expect/factory"
	"github.com/loykin/genkeep/internal/history"
	histfactory "github.com/loykin/genkeep/internal/history/factory"
	"github.com/loykin/genkeep/internal/lease"
	"github.com/loykin/genkeep/internal/logger"
	"github.com/loykin/genkeep/internal/metrics"
	"github.com/loykin/genkeep/internal/notify"
	"github.com/loykin/genkeep/internal/power"
	"github.com/loykin/genkeep/internal/runner"
	iapi "github.com/loykin/genkeep/internal/server"
	"github.com/loykin/genkeep/internal/watchdog"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = control.Status

type Request = control.Request

type Outcome = watchdog.Outcome

type HistorySink = history.Sink

// Daemon owns every component of a running keep-alive supervisor.
type Daemon struct {
	cfg   *cfg.Config
	log   *slog.Logger
	level *slog.LevelVar

	store   *expect.Store
	tray    *notify.Tray
	systemd *notify.Systemd
	history *history.Fanout
	runner  *runner.Runner
	sched   *watchdog.Scheduler
	ctl     *control.Controller

	closers []func()
}

// New assembles a daemon from c. Host services that are missing (logind, the
// system bus, systemd) degrade to no-ops; only storage errors are fatal.
func New(c *cfg.Config) (*Daemon, error) {
	if c == nil {
		def := cfg.Default()
		c = &def
	}
	d := &Daemon{cfg: c, level: new(slog.LevelVar)}
	d.log = c.Log.NewSloggerWithLevel(d.level)

	kv, err := expfactory.NewFromDSN(c.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.store = expect.New(kv, c.Store.Namespace)
	if err := d.store.EnsureSchema(context.Background()); err != nil {
		_ = d.store.Close()
		return nil, fmt.Errorf("prepare store: %w", err)
	}
	d.closers = append(d.closers, func() { _ = d.store.Close() })

	sinks, err := histfactory.NewSinks(c.History.DSNs)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open history sinks: %w", err)
	}
	d.history = history.NewFanout(d.log, sinks...)
	d.closers = append(d.closers, func() { _ = d.history.Close() })

	l := d.newLease()

	d.tray = notify.NewTray()
	notifiers := notify.Multi{d.tray}
	if c.Notify.Systemd {
		d.systemd = notify.NewSystemd()
		notifiers = append(notifiers, d.systemd)
	}
	if c.Notify.Log {
		notifiers = append(notifiers, notify.Log{Logger: d.log.With("component", "notify")})
	}

	d.runner = runner.New(runner.Options{
		Lease:             l,
		Notifier:          notifiers,
		Store:             d.store,
		History:           d.history,
		Logger:            d.log.With("component", "runner"),
		NotificationID:    c.Runner.NotificationID,
		Channel:           c.Runner.Channel,
		HeartbeatInterval: c.Runner.HeartbeatInterval,
	})

	probe, err := watchdog.NewProbe(watchdog.ProbeKind(c.Watchdog.Probe), d.runner, d.store, c.Watchdog.StaleAfter)
	if err != nil {
		d.Close()
		return nil, err
	}
	policy, err := watchdog.ParsePolicy(c.Watchdog.Policy)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.sched = watchdog.NewScheduler(watchdog.SchedulerOptions{
		MinPeriod: c.Watchdog.MinInterval,
		Logger:    d.log,
	})
	worker := &watchdog.Worker{
		Store:   d.store,
		Probe:   probe,
		Starter: d.runner,
		History: d.history,
		Logger:  d.log.With("component", "watchdog"),
	}

	d.ctl, err = control.New(control.Options{
		Store:            d.store,
		Runner:           d.runner,
		Scheduler:        d.sched,
		Worker:           worker,
		Exemptor:         d.newExemptor(),
		Logger:           d.log.With("component", "control"),
		WatchdogName:     c.Watchdog.Name,
		WatchdogInterval: c.Watchdog.Interval,
		WatchdogPolicy:   policy,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) newLease() *lease.Lease {
	switch d.cfg.Lease.Backend {
	case "memory":
		return lease.NewMemoryLease(d.log)
	case "none":
		return &lease.Lease{}
	}
	l, closeFn := lease.NewSystemLease(d.cfg.Lease.Who, d.log)
	d.closers = append(d.closers, closeFn)
	return l
}

func (d *Daemon) newExemptor() power.Exemptor {
	if d.cfg.Power.Backend != "dbus" {
		return power.Noop{}
	}
	ex, closeFn := power.NewSystemExemptor(d.cfg.Power.AppID, d.log)
	d.closers = append(d.closers, closeFn)
	return ex
}

func (d *Daemon) Logger() *slog.Logger            { return d.log }
func (d *Daemon) Controller() *control.Controller { return d.ctl }
func (d *Daemon) Tray() *notify.Tray              { return d.tray }
func (d *Daemon) Config() *cfg.Config             { return d.cfg }

// Run starts the runner loop and the watchdog scheduler, resumes a task left
// running by a previous process, and blocks until ctx is done. On return the
// runner has torn down and no watchdog firing is in flight.
func (d *Daemon) Run(ctx context.Context) error {
	rctx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	errCh := make(chan error, 1)
	go func() { errCh <- d.runner.Run(rctx) }()

	d.sched.Start()
	if d.cfg.Watchdog.ResumeOnStart {
		d.ctl.Resume(ctx)
	}
	if d.systemd != nil {
		if err := d.systemd.Ready(); err != nil {
			d.log.Debug("sd_notify ready failed", "error", err)
		}
	}
	d.log.Info("genkeep running", "store", d.store.Namespace(), "watchdog", d.cfg.Watchdog.Name)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if d.systemd != nil {
		_ = d.systemd.Stopping()
	}
	<-d.sched.Stop().Done()
	d.ctl.Wait()
	stopRunner()
	<-d.runner.Done()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// Apply takes the hot-reloadable parts of a new config: the log level, the
// watchdog interval and the history sinks. Everything else needs a restart.
func (d *Daemon) Apply(c *cfg.Config) {
	if c == nil {
		return
	}
	d.level.Set(logger.ParseLevel(c.Log.Slog.Level))
	if c.Watchdog.Interval != d.cfg.Watchdog.Interval {
		if err := d.ctl.SetWatchdogInterval(c.Watchdog.Interval); err != nil {
			d.log.Warn("watchdog interval not applied", "error", err)
			return
		}
		d.cfg.Watchdog.Interval = c.Watchdog.Interval
	}
	d.cfg.Log.Slog.Level = c.Log.Slog.Level
	d.applyHistory(c.History.DSNs)
}

// applyHistory reopens the history sinks when their DSN list changed. On
// failure the current sinks stay in place.
func (d *Daemon) applyHistory(dsns []string) {
	if slices.Equal(dsns, d.cfg.History.DSNs) {
		return
	}
	sinks, err := histfactory.NewSinks(dsns)
	if err != nil {
		d.log.Warn("history sinks not reloaded", "error", err)
		return
	}
	if err := d.history.SetSinks(sinks...); err != nil {
		d.log.Warn("closing replaced history sinks", "error", err)
	}
	d.cfg.History.DSNs = slices.Clone(dsns)
	d.log.Info("history sinks reloaded", "count", len(sinks))
}

// Close releases storage, history sinks and host connections in reverse order.
func (d *Daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func LoadConfig(path string) (*cfg.Config, error) {
	return cfg.Load(path)
}

// WatchConfig applies hot-reloadable changes of the file at path until ctx
// is done.
func (d *Daemon) WatchConfig(ctx context.Context, path string) error {
	w, err := cfg.NewWatcher(path, d.log.With("component", "config"), d.Apply)
	if err != nil {
		return err
	}
	go w.Run(ctx)
	return nil
}

// NewHTTPServer starts an HTTP server exposing the control API of d.
// When withMetrics is set /metrics is mounted under the same base path.
func NewHTTPServer(addr, basePath string, d *Daemon, withMetrics bool) (*http.Server, error) {
	r := iapi.NewRouter(d.ctl, d.tray, basePath).
		WithLogger(d.log.With("component", "http")).
		WithNotificationID(d.cfg.Runner.NotificationID)
	if withMetrics {
		r.WithMetrics(metrics.Handler())
	}
	return iapi.NewServer(addr, r)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer serves /metrics from the default registry on its own
// listener. The listener is bound before returning.
func NewMetricsServer(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
