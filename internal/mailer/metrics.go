package mailer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clubmail"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of emails in queue by status",
		},
		[]string{"status"},
	)

	emailsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Enqueue attempts by email type and result (inserted or duplicate)",
		},
		[]string{"email_type", "result"},
	)

	quotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "quota_rejected_total",
			Help:      "Scheduling requests rejected by the daily quota",
		},
	)

	emailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emails",
			Name:      "sent_total",
			Help:      "Total emails processed by outcome",
		},
		[]string{"email_type", "status"},
	)

	emailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "emails",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver an email to the transport",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"email_type"},
	)

	itemsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "claimed_total",
			Help:      "Total items claimed from queue (before send attempt). Sum of sent_total should match this.",
		},
	)
)

func recordEnqueued(emailType EmailType, result string) {
	emailsEnqueued.WithLabelValues(string(emailType), result).Inc()
}

func recordQuotaRejected() {
	quotaRejections.Inc()
}

// recordEmailSent records a processed email metric.
func recordEmailSent(emailType EmailType, status string) {
	emailsSent.WithLabelValues(string(emailType), status).Inc()
}

// recordSendDuration records transport duration.
func recordSendDuration(emailType EmailType, duration time.Duration) {
	emailSendDuration.WithLabelValues(string(emailType)).Observe(duration.Seconds())
}

// recordQueueProcessed records the number of items claimed from the queue.
func recordQueueProcessed(count int) {
	itemsClaimed.Add(float64(count))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("processing").Set(float64(stats.Processing))
	queueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
