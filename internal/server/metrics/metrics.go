// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	KiB = float64(1024)
	MiB = float64(1024 * KiB)
)

// Upload outcomes recorded per file.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	uploadFiles   *prometheus.CounterVec
	uploadSize    prometheus.Histogram
	pipelineTime  prometheus.Histogram
	previews      prometheus.Counter
	downloads     prometheus.Counter
	evictions     prometheus.Counter
	resets        prometheus.Counter
	artifactCount prometheus.GaugeFunc
	tokenCount    prometheus.GaugeFunc
}

// New registers the collectors on a private registry. artifacts and tokens
// report the number of retained artifacts and of valid download tokens;
// either may be nil.
func New(artifacts, tokens func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dngdrop_http_requests_total",
				Help: "Number of HTTP requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		uploadFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dngdrop_upload_files_total",
				Help: "Number of uploaded files by outcome",
			},
			[]string{"outcome"},
		),
		uploadSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "dngdrop_upload_file_bytes",
				Help: "Sizes of uploaded RAW files",
				Buckets: []float64{
					MiB,
					8 * MiB,
					16 * MiB,
					32 * MiB,
					64 * MiB,
					128 * MiB,
					256 * MiB,
				},
			},
		),
		pipelineTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dngdrop_pipeline_duration_seconds",
				Help:    "Duration of RAW to DNG processing",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
		previews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dngdrop_previews_served_total",
			Help: "Number of previews served",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dngdrop_downloads_total",
			Help: "Number of artifacts consumed by download",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dngdrop_evictions_total",
			Help: "Number of artifacts removed by the retention sweep",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dngdrop_resets_total",
			Help: "Number of full state resets",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.uploadFiles, m.uploadSize, m.pipelineTime,
		m.previews, m.downloads, m.evictions, m.resets,
	)

	if artifacts != nil {
		m.artifactCount = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dngdrop_artifacts",
			Help: "Number of retained artifacts",
		}, func() float64 { return float64(artifacts()) })
		m.registry.MustRegister(m.artifactCount)
	}
	if tokens != nil {
		m.tokenCount = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dngdrop_tokens",
			Help: "Number of currently valid download tokens",
		}, func() float64 { return float64(tokens()) })
		m.registry.MustRegister(m.tokenCount)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}


func (m *Metrics) ObserveRequest(operation string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, statusClass(status)).Inc()
}

func (m *Metrics) ObserveUploadFile(outcome string, size int64) {
	if m == nil {
		return
	}
	m.uploadFiles.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.uploadSize.Observe(float64(size))
	}
}

func (m *Metrics) ObservePipeline(d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineTime.Observe(d.Seconds())
}

func (m *Metrics) PreviewServed() {
	if m != nil {
		m.previews.Inc()
	}
}

func (m *Metrics) Downloaded() {
	if m != nil {
		m.downloads.Inc()
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil {
		m.evictions.Add(float64(n))
	}
}

func (m *Metrics) Reset() {
	if m != nil {
		m.resets.Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
