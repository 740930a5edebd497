package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_created_total", Help: "Background jobs created"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_succeeded_total", Help: "Background jobs completed successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Background jobs that exhausted all attempts"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_retried_total", Help: "Job attempts that failed and were rescheduled"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_cancelled_total", Help: "Background jobs cancelled"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "job_rate_limit_rejects_total", Help: "Job submissions rejected by the rate limiter"})
	CostAlertsRaised = prometheus.NewCounter(prometheus.CounterOpts{Name: "cost_alerts_raised_total", Help: "Cost alerts raised by budget threshold crossings"})

	QueueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_queue_depth", Help: "Ready queue depth across all lanes"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Jobs currently leased by a worker"})

	// HealthCheckStatus reports 0=healthy 1=degraded 2=unhealthy per check.
	HealthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "health_check_status", Help: "Latest health check status (0 healthy, 1 degraded, 2 unhealthy)"}, []string{"check"})
	HealthCheckLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "health_check_latency_ms", Help: "Latest health check latency in milliseconds"}, []string{"check"})
)

func register() {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsSucceeded,
			JobsFailed,
			JobsRetried,
			JobsCancelled,
			RateLimitRejects,
			CostAlertsRaised,
			QueueDepthGauge,
			InFlightGauge,
			HealthCheckStatus,
			HealthCheckLatency,
		)
	})
}

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	register()
	return promhttp.Handler()
}
