package upload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload outcome labels.
const (
	statusSuccess   = "success"
	statusHTTPError = "http_error"
	statusTransport = "transport_error"
	statusDecode    = "decode_error"
)

// Metrics records per-file and per-batch upload outcomes. A nil *Metrics records nothing.
type Metrics struct {
	uploadsTotal   *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	bytesReceived  prometheus.Counter
	batchesTotal   *prometheus.CounterVec
}

// NewMetrics registers the upload metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poseup_uploads_total",
				Help: "Total number of per-file uploads",
			},
			[]string{"status"}, // status: success, http_error, transport_error, decode_error
		),
		uploadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "poseup_upload_duration_seconds",
				Help:    "Per-file upload duration in seconds, request to fully read response",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		bytesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poseup_processed_bytes_total",
				Help: "Total bytes of processed images received",
			},
		),
		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poseup_batches_total",
				Help: "Total number of upload batches",
			},
			[]string{"result"}, // result: success, failure
		),
	}
}

func (m *Metrics) observeUpload(status string, seconds float64, received int) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(status).Inc()
	m.uploadDuration.Observe(seconds)
	if received > 0 {
		m.bytesReceived.Add(float64(received))
	}
}

func (m *Metrics) observeBatch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.batchesTotal.WithLabelValues("failure").Inc()
		return
	}
	m.batchesTotal.WithLabelValues("success").Inc()
}
