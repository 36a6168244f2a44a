// Package metrics exposes the dispatch engine's Prometheus counters:
// cumulative counters for RED-style rate/error tracking, a histogram for
// latency, and gauges for instantaneous queue depth.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects the task lifecycle metrics.
type Collector struct {
	tasksSubmitted prometheus.Counter
	tasksClaimed   prometheus.Counter
	tasksDone      prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksDropped   *prometheus.CounterVec

	taskLatency prometheus.Histogram

	admissionQueueDepth *prometheus.GaugeVec
	executingInFlight   prometheus.Gauge
}

// NewCollector builds and registers the collector's metrics against the
// default Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "falconq_tasks_submitted_total",
			Help: "Total number of tasks submitted.",
		}),
		tasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "falconq_tasks_claimed_total",
			Help: "Total number of successful claims (a task transitioning to started_executing).",
		}),
		tasksDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "falconq_tasks_done_total",
			Help: "Total number of tasks that completed their handler successfully.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "falconq_tasks_failed_total",
			Help: "Total number of tasks whose handler returned an error or panicked.",
		}),
		tasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "falconq_tasks_dropped_total",
			Help: "Total number of admission hints dropped because the queue was full, by source.",
		}, []string{"source"}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "falconq_task_latency_seconds",
			Help:    "Seconds between a task's execution_time and its claim.",
			Buckets: prometheus.DefBuckets,
		}),
		admissionQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "falconq_admission_queue_depth",
			Help: "Current number of hints buffered in the admission queue, by priority.",
		}, []string{"priority"}),
		executingInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "falconq_executing_in_flight",
			Help: "Current number of tasks holding a concurrency permit and executing.",
		}),
	}

	prometheus.MustRegister(
		c.tasksSubmitted,
		c.tasksClaimed,
		c.tasksDone,
		c.tasksFailed,
		c.tasksDropped,
		c.taskLatency,
		c.admissionQueueDepth,
		c.executingInFlight,
	)

	return c
}

// RecordSubmitted records a successful Insert.
func (c *Collector) RecordSubmitted() { c.tasksSubmitted.Inc() }

// RecordClaimed records a won claim, along with the delay between the
// task's scheduled execution_time and the moment it was claimed.
func (c *Collector) RecordClaimed(executionTime time.Time) {
	c.tasksClaimed.Inc()
	c.taskLatency.Observe(time.Since(executionTime).Seconds())
}

// RecordDone records a handler that returned nil.
func (c *Collector) RecordDone() { c.tasksDone.Inc() }

// RecordFailed records a handler that returned an error or panicked.
func (c *Collector) RecordFailed() { c.tasksFailed.Inc() }

// RecordDropped records an admission hint dropped because the queue was full.
func (c *Collector) RecordDropped(source string) { c.tasksDropped.WithLabelValues(source).Inc() }

// SetQueueDepth reports the current buffered depth of each priority channel.
func (c *Collector) SetQueueDepth(priority string, depth int) {
	c.admissionQueueDepth.WithLabelValues(priority).Set(float64(depth))
}

// SetExecutingInFlight reports how many concurrency permits are currently held.
func (c *Collector) SetExecutingInFlight(n int) {
	c.executingInFlight.Set(float64(n))
}

// StartServer runs the /metrics HTTP endpoint until ctx is done.
func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
