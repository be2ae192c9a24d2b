// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns every collector the service exports. Each server builds its own
// so tests can create as many as they like without duplicate registration.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	Jobs              *prometheus.CounterVec
	JobStageDuration  *prometheus.HistogramVec
	QuotaDecisions    *prometheus.CounterVec
	UploadBytes       prometheus.Counter
	UploadParts       prometheus.Counter
	QueueLeaseRenewal prometheus.Counter
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiotricks",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "audiotricks",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiotricks",
			Name:      "jobs_total",
			Help:      "Processing jobs by terminal status.",
		}, []string{"status"}),
		JobStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "audiotricks",
			Name:      "job_stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		QuotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiotricks",
			Name:      "quota_decisions_total",
			Help:      "Quota enforcement outcomes.",
		}, []string{"resource", "decision"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiotricks",
			Name:      "upload_bytes_total",
			Help:      "Bytes received through upload parts.",
		}),
		UploadParts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiotricks",
			Name:      "upload_parts_total",
			Help:      "Upload parts stored.",
		}),
		QueueLeaseRenewal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiotricks",
			Name:      "queue_lease_renewals_total",
			Help:      "Job lease extensions issued by workers.",
		}),
	}

	r.reg.MustRegister(
		r.HTTPRequests,
		r.HTTPDuration,
		r.Jobs,
		r.JobStageDuration,
		r.QuotaDecisions,
		r.UploadBytes,
		r.UploadParts,
		r.QueueLeaseRenewal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the registry to promhttp.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
