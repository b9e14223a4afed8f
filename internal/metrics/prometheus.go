// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrijr/orderflow/pkg/api"
)

// PrometheusObserver is an api.Observer that records executions and task
// durations.
type PrometheusObserver struct {
	api.NoopObserver

	started      *prometheus.CounterVec
	finished     *prometheus.CounterVec
	running      *prometheus.GaugeVec
	taskDuration *prometheus.HistogramVec
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates the collectors and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orderflow",
				Name:      "executions_started_total",
				Help:      "Total number of started executions.",
			},
			[]string{"definition"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orderflow",
				Name:      "executions_finished_total",
				Help:      "Total number of executions that reached a terminal status.",
			},
			[]string{"definition", "status"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "orderflow",
				Name:      "executions_running",
				Help:      "Executions started by this process and not yet terminal.",
			},
			[]string{"definition"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "orderflow",
				Name:      "task_duration_seconds",
				Help:      "Task executor latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task", "outcome"},
		),
	}

	for _, c := range []prometheus.Collector{o.started, o.finished, o.running, o.taskDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) OnExecutionStarted(ctx context.Context, exec *api.Execution) {
	o.started.WithLabelValues(exec.DefinitionName).Inc()
	o.running.WithLabelValues(exec.DefinitionName).Inc()
}

func (o *PrometheusObserver) OnTaskCompleted(ctx context.Context, exec *api.Execution, state api.State, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.taskDuration.WithLabelValues(state.Task, outcome).Observe(d.Seconds())
}

func (o *PrometheusObserver) OnExecutionSucceeded(ctx context.Context, exec *api.Execution) {
	o.finish(exec)
}

func (o *PrometheusObserver) OnExecutionFailed(ctx context.Context, exec *api.Execution, err error) {
	o.finish(exec)
}

func (o *PrometheusObserver) finish(exec *api.Execution) {
	o.finished.WithLabelValues(exec.DefinitionName, string(exec.Status)).Inc()
	o.running.WithLabelValues(exec.DefinitionName).Dec()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
