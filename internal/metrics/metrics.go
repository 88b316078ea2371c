// Package metrics records task and live-reload activity in a private
// prometheus registry. The dev server exposes it on /metrics.
//
// A nil *Recorder is valid and records nothing, so one-shot builds and
// tests can skip metrics entirely.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitepipe"

// Recorder owns the collectors for one process.
type Recorder struct {
	registry      *prometheus.Registry
	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	broadcasts    *prometheus.CounterVec
	watchTriggers *prometheus.CounterVec
	clients       prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Total number of task runs by outcome",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task runs",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"task"},
		),
		broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reload_broadcasts_total",
				Help:      "Live-reload messages broadcast to browsers",
			},
			[]string{"type"},
		),
		watchTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_triggers_total",
				Help:      "Rebuilds triggered by file changes",
			},
			[]string{"binding"},
		),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reload_clients",
			Help:      "Connected live-reload clients",
		}),
	}

	r.registry.MustRegister(r.taskRuns, r.taskDuration, r.broadcasts, r.watchTriggers, r.clients)
	return r
}

// ObserveTask records one finished leaf task.
func (r *Recorder) ObserveTask(task string, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	r.taskRuns.WithLabelValues(task, status).Inc()
	r.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

// Broadcast records one live-reload message of the given type.
func (r *Recorder) Broadcast(msgType string) {
	if r == nil {
		return
	}
	r.broadcasts.WithLabelValues(msgType).Inc()
}

// WatchTrigger records one rebuild started by the watcher.
func (r *Recorder) WatchTrigger(binding string) {
	if r == nil {
		return
	}
	r.watchTriggers.WithLabelValues(binding).Inc()
}

// SetClients records the current number of live-reload clients.
func (r *Recorder) SetClients(n int) {
	if r == nil {
		return
	}
	r.clients.Set(float64(n))
}

// Registry is the registry every collector of r is registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry(), promhttp.HandlerOpts{})
}
