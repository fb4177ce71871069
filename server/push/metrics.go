package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPrepared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "push_notifications_prepared_total",
		Help: "Targeted notifications prepared, by platform and kind.",
	}, []string{"platform", "kind"})

	metricEncryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_encryption_failures_total",
		Help: "Per-device encryption failures degraded to plaintext markers.",
	})

	metricBlobUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "push_blob_uploads_total",
		Help: "Shared blob uploads for oversized payloads, by result.",
	}, []string{"result"})
)

// CountPrepared records prepared notifications for the metrics endpoint.
// kind is "visual", "badge" or "rescind".
func CountPrepared(platform string, kind string, n int) {
	if n > 0 {
		metricPrepared.WithLabelValues(platform, kind).Add(float64(n))
	}
}

// CountEncryptFailure records one degraded-to-plaintext encryption error.
func CountEncryptFailure() {
	metricEncryptFailures.Inc()
}
