package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runnerCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genkeep",
			Subsystem: "runner",
			Name:      "commands_total",
			Help:      "Commands handled by the foreground task runner.",
		}, []string{"command"},
	)
	runnerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genkeep",
			Subsystem: "runner",
			Name:      "state_transitions_total",
			Help:      "Runner state transitions.",
		}, []string{"from", "to", "reason"},
	)
	runnerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "genkeep",
			Subsystem: "runner",
			Name:      "running",
			Help:      "1 while the runner is in the running state.",
		},
	)
	runnerProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "genkeep",
			Subsystem: "runner",
			Name:      "progress_percent",
			Help:      "Progress shown in the persistent notification.",
		},
	)
	leaseHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "genkeep",
			Subsystem: "lease",
			Name:      "held",
			Help:      "1 while the named lease is held.",
		}, []string{"lease"},
	)
	leaseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genkeep",
			Subsystem: "lease",
			Name:      "errors_total",
			Help:      "Failed lease acquire/release attempts.",
		}, []string{"op"},
	)
	watchdogChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genkeep",
			Subsystem: "watchdog",
			Name:      "checks_total",
			Help:      "Watchdog firings by outcome.",
		}, []string{"outcome"},
	)
	watchdogScheduled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "genkeep",
			Subsystem: "watchdog",
			Name:      "scheduled",
			Help:      "Number of active periodic watchdog schedules.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		runnerCommands, runnerTransitions, runnerRunning, runnerProgress,
		leaseHeld, leaseErrors, watchdogChecks, watchdogScheduled,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCommand(cmd string) {
	if regOK.Load() {
		runnerCommands.WithLabelValues(cmd).Inc()
	}
}

func RecordTransition(from, to, reason string) {
	if regOK.Load() {
		runnerTransitions.WithLabelValues(from, to, reason).Inc()
	}
}

func SetRunning(running bool) {
	if regOK.Load() {
		runnerRunning.Set(b2f(running))
	}
}

func SetProgress(p int) {
	if regOK.Load() {
		runnerProgress.Set(float64(p))
	}
}

func SetLeaseHeld(cpu, network bool) {
	if regOK.Load() {
		leaseHeld.WithLabelValues("cpu").Set(b2f(cpu))
		leaseHeld.WithLabelValues("network").Set(b2f(network))
	}
}

func IncLeaseError(op string) {
	if regOK.Load() {
		leaseErrors.WithLabelValues(op).Inc()
	}
}

func IncWatchdogCheck(outcome string) {
	if regOK.Load() {
		watchdogChecks.WithLabelValues(outcome).Inc()
	}
}

func SetWatchdogScheduled(n int) {
	if regOK.Load() {
		watchdogScheduled.Set(float64(n))
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
