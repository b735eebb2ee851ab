package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PipelineMetrics struct {
	JobResults           *prometheus.CounterVec
	RungTranscodeSeconds *prometheus.HistogramVec
	UploadedBytes        prometheus.Counter
	ChunksReceived       prometheus.Counter
	HTTPRequestsInFlight prometheus.Gauge
	QueueDepth           prometheus.Gauge
}

func NewMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		JobResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "processing_job_results_total",
			Help: "Terminal processing-job outcomes, broken up by status",
		}, []string{"status"}),
		RungTranscodeSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rung_transcode_duration_seconds",
			Help:    "Time taken to encode and segment a single ladder rung",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"resolution"}),
		UploadedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "object_store_uploaded_bytes_total",
			Help: "Bytes written to the object store",
		}),
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "upload_chunks_received_total",
			Help: "Upload chunks accepted by the chunk store",
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "A gauge of how many HTTP requests are currently being processed",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "processing_queue_depth",
			Help: "Number of jobs currently waiting in the processing queue",
		}),
	}
	return m
}

// Metrics is the global metrics handle, initialised once at boot.
var Metrics = NewMetrics()
