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

	workerSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekeeper",
			Subsystem: "worker",
			Name:      "spawns_total",
			Help:      "Number of successful worker launches.",
		}, []string{"name"},
	)
	workerSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekeeper",
			Subsystem: "worker",
			Name:      "spawn_failures_total",
			Help:      "Number of failed worker launches.",
		}, []string{"name"},
	)
	workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekeeper",
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Number of observed worker exits.",
		}, []string{"name"},
	)
	workerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sidekeeper",
			Subsystem: "worker",
			Name:      "up",
			Help:      "1 while the worker process is alive.",
		}, []string{"name"},
	)
	signalsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekeeper",
			Subsystem: "worker",
			Name:      "terminate_signals_total",
			Help:      "Terminate signals delivered during tree teardown, by target.",
		}, []string{"target"},
	)

	healthState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sidekeeper",
			Subsystem: "health",
			Name:      "state",
			Help:      "Current health state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	healthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidekeeper",
			Subsystem: "health",
			Name:      "transitions_total",
			Help:      "Number of health state transitions.",
		}, []string{"from", "to"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sidekeeper",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Latency of health endpoint probes.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"result"},
	)
)

// Register registers all metrics with r. It may be called once per
// registry: every registry passed in gathers the same process-wide
// collectors, and registering twice with the same one is a no-op.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{
		workerSpawns, workerSpawnFailures, workerExits, workerUp, signalsSent,
		healthState, healthTransitions, probeDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(name string) {
	if regOK.Load() {
		workerSpawns.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		workerSpawnFailures.WithLabelValues(name).Inc()
	}
}

func IncExit(name string) {
	if regOK.Load() {
		workerExits.WithLabelValues(name).Inc()
	}
}

func SetWorkerUp(name string, up bool) {
	if regOK.Load() {
		workerUp.WithLabelValues(name).Set(boolValue(up))
	}
}

// IncSignal counts a terminate signal; target is "worker" or "descendant".
func IncSignal(target string) {
	if regOK.Load() {
		signalsSent.WithLabelValues(target).Inc()
	}
}

// SetHealthState marks current as the only active state among all.
func SetHealthState(current string, all []string) {
	if regOK.Load() {
		for _, s := range all {
			healthState.WithLabelValues(s).Set(boolValue(s == current))
		}
	}
}

func RecordHealthTransition(from, to string) {
	if regOK.Load() {
		healthTransitions.WithLabelValues(from, to).Inc()
	}
}

func ObserveProbe(seconds float64, ok bool) {
	if regOK.Load() {
		result := "error"
		if ok {
			result = "ok"
		}
		probeDuration.WithLabelValues(result).Observe(seconds)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
