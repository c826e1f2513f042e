// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_seconds",
			Help:    "Text model call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"step", "status"},
	)

	ImageGenerationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_generation_count",
			Help: "Total number of section images generated",
		},
		[]string{"status"},
	)

	NewsletterGenerationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_generation_count",
			Help: "Total number of newsletter generation attempts",
		},
		[]string{"status"}, // success, failed, replayed
	)

	EmailSendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_send_count",
			Help: "Total number of newsletter emails by final outcome",
		},
		[]string{"status"},
	)

	EmailSendAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "email_send_attempts_total",
			Help: "Total number of email provider calls",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"method", "route", "status"},
	)
)

func RecordLLMCall(step, status string, d time.Duration) {
	LLMCallLatency.WithLabelValues(step, status).Observe(d.Seconds())
}

func IncrementImageGeneration(status string) {
	ImageGenerationCount.WithLabelValues(status).Inc()
}

func IncrementGeneration(status string) {
	NewsletterGenerationCount.WithLabelValues(status).Inc()
}

func IncrementEmailSend(status string) {
	EmailSendCount.WithLabelValues(status).Inc()
}

func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
