package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/genkeep"
)

// session is one running daemon with its HTTP listeners.
type session struct {
	daemon  *genkeep.Daemon
	api     *http.Server
	metrics *http.Server
	cancel  context.CancelFunc
	done    chan error
}

// startSession loads the config, builds the daemon and starts serving. It
// returns once everything is listening.
func startSession(flags *ServeFlags) (*session, error) {
	cfg, err := genkeep.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	d, err := genkeep.New(cfg)
	if err != nil {
		return nil, err
	}
	log := d.Logger()
	slog.SetDefault(log)

	s := &session{daemon: d, done: make(chan error, 1)}
	if cfg.Metrics.Enabled {
		if err := genkeep.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			if s.metrics, err = genkeep.NewMetricsServer(cfg.Metrics.Listen); err != nil {
				d.Close()
				return nil, err
			}
			log.Info("serving metrics", "addr", s.metrics.Addr)
		}
	}
	if cfg.Server.Enabled {
		withMetrics := cfg.Metrics.Enabled && cfg.Metrics.Listen == ""
		if s.api, err = genkeep.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, d, withMetrics); err != nil {
			s.closeServers()
			d.Close()
			return nil, fmt.Errorf("failed to create HTTP server: %w", err)
		}
		log.Info("serving control API", "addr", s.api.Addr, "base_path", cfg.Server.BasePath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if flags.ConfigPath != "" && !flags.NoWatch {
		if err := d.WatchConfig(ctx, flags.ConfigPath); err != nil {
			log.Warn("config hot reload disabled", "error", err)
		}
	}
	go func() { s.done <- d.Run(ctx) }()
	return s, nil
}

// stop shuts the listeners down first so no command races the teardown.
func (s *session) stop() error {
	s.closeServers()
	s.cancel()
	err := <-s.done
	s.daemon.Close()
	return err
}

func (s *session) closeServers() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.api != nil {
		_ = s.api.Shutdown(ctx)
	}
	if s.metrics != nil {
		_ = s.metrics.Shutdown(ctx)
	}
}

// program adapts a session to the service manager.
type program struct {
	flags *ServeFlags
	sess  *session
}

func (p *program) Start(service.Service) error {
	sess, err := startSession(p.flags)
	if err != nil {
		return err
	}
	p.sess = sess
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.sess == nil {
		return nil
	}
	err := p.sess.stop()
	p.sess = nil
	return err
}

func runServeCommand(flags *ServeFlags) error {
	prg := &program{flags: flags}
	svc, err := service.New(prg, serviceConfig(flags.ConfigPath))
	if err == nil && !service.Interactive() {
		return svc.Run()
	}

	if err := prg.Start(nil); err != nil {
		return err
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-prg.sess.done:
		// Run ended on its own; report it after cleanup.
		prg.sess.done <- err
	}
	if err := prg.Stop(nil); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
