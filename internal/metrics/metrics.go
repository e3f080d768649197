package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	BackendCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "backend_calls_total",
		Help:      "Total backend RPC calls by kind and outcome.",
	}, []string{"kind", "outcome"})

	FanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "fanout_duration_seconds",
		Help:      "Duration of multi-backend list fan-outs in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	})

	MaintenanceTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "maintenance_tick_duration_seconds",
		Help:      "Duration of maintenance scheduler ticks in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	AutoPausesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "auto_pauses_total",
		Help:      "Total torrents auto-paused after their seed window elapsed.",
	})

	PollCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "poll_cycles_total",
		Help:      "Total backend poll cycles by outcome.",
	}, []string{"outcome"})

	TransferJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "transfer_jobs_total",
		Help:      "Total transfer jobs by terminal state.",
	}, []string{"state"})

	TransfersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "transfers_active",
		Help:      "Number of currently running transfer jobs.",
	})

	HLSActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "hls_active_jobs",
		Help:      "Number of currently active HLS transcode jobs.",
	})

	HLSJobStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "hls_job_starts_total",
		Help:      "Total number of HLS transcode jobs started.",
	})

	HLSJobFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "hls_job_failures_total",
		Help:      "Total number of HLS transcode job failures.",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "sessions_active",
		Help:      "Number of live login sessions (sampled).",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BackendCallsTotal,
		FanoutDuration,
		MaintenanceTickDuration,
		AutoPausesTotal,
		PollCyclesTotal,
		TransferJobsTotal,
		TransfersActive,
		HLSActiveJobs,
		HLSJobStartsTotal,
		HLSJobFailuresTotal,
		SessionsActive,
	)
}
