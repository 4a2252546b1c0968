package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestDuration tracks HTTP request duration in seconds by method, route, status.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RequestTotal counts HTTP requests by method, route, status.
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ScheduleRunsTotal counts recorded executions by provider, action and outcome.
	ScheduleRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_runs_total",
			Help: "Total number of schedule executions by provider, action and status",
		},
		[]string{"provider", "action", "status"},
	)

	// ScheduleRunDuration tracks provider call latency.
	ScheduleRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schedule_run_duration_seconds",
			Help:    "Duration of provider start/stop calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "action"},
	)

	// SchedulerTicksTotal counts scheduler passes by result (ok, error).
	SchedulerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler ticks by result",
		},
		[]string{"result"},
	)

	// SchedulerClaimed is the number of schedules claimed by the last tick.
	SchedulerClaimed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_claimed_schedules",
			Help: "Number of schedules claimed by the most recent tick",
		},
	)
)

var initOnce sync.Once

func init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestDuration, RequestTotal,
			ScheduleRunsTotal, ScheduleRunDuration, SchedulerTicksTotal, SchedulerClaimed)
	})
}

// RecordRequest records duration and count for an HTTP request. route should be the
// matched route pattern (e.g. /schedules/{id}) so ids do not become labels.
func RecordRequest(method, route string, statusCode int, durationSeconds float64) {
	if route == "" {
		route = "unmatched"
	}
	status := strconv.Itoa(statusCode)
	RequestDuration.WithLabelValues(method, route, status).Observe(durationSeconds)
	RequestTotal.WithLabelValues(method, route, status).Inc()
}

// RecordRun counts one execution and observes its duration.
func RecordRun(provider, action, status string, d time.Duration) {
	ScheduleRunsTotal.WithLabelValues(provider, action, status).Inc()
	ScheduleRunDuration.WithLabelValues(provider, action).Observe(d.Seconds())
}

// RecordTick counts a scheduler pass. result is "ok" or "error".
func RecordTick(result string, claimed int) {
	SchedulerTicksTotal.WithLabelValues(result).Inc()
	SchedulerClaimed.Set(float64(claimed))
}
