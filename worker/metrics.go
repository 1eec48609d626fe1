package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voynich"

// Metrics are the worker pool's Prometheus collectors.
type Metrics struct {
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	busyWorkers  prometheus.Gauge
	recovered    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Conversion jobs that left a worker, by final status",
			},
			[]string{"status"}, // completed, failed, cancelled, skipped
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock time a worker spent on one conversion job",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		busyWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_busy",
				Help:      "Workers currently running a conversion job",
			},
		),
		recovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_tasks_recovered_total",
				Help:      "Tasks removed from the processing list after their worker disappeared",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.jobsFinished, m.jobDuration, m.busyWorkers, m.recovered)
	}
	return m
}
