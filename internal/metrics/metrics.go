package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	WebhookMessages      prometheus.Counter
	ProcessedMessages    prometheus.Counter
	DuplicateMessages    prometheus.Counter
	GeneratorFailures    prometheus.Counter
	NotificationsSent    prometheus.Counter
	NotificationFailures prometheus.Counter
	NotificationsSkipped prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			WebhookMessages: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "webhook_messages_total",
				Help:      "Total inbound webhook messages received",
			}),
			ProcessedMessages: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "pipeline_processed_total",
				Help:      "Total messages that completed the dialogue pipeline",
			}),
			DuplicateMessages: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "pipeline_duplicates_total",
				Help:      "Total inbound messages dropped as duplicates",
			}),
			GeneratorFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "generator_failures_total",
				Help:      "Total reply generator invocations that failed",
			}),
			NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "notifications_sent_total",
				Help:      "Total replies delivered to channel webhooks",
			}),
			NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "notification_failures_total",
				Help:      "Total channel webhook deliveries that failed",
			}),
			NotificationsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "notifications_skipped_total",
				Help:      "Total deliveries skipped because the channel is inactive",
			}),
		}
		prometheus.MustRegister(
			global.WebhookMessages,
			global.ProcessedMessages,
			global.DuplicateMessages,
			global.GeneratorFailures,
			global.NotificationsSent,
			global.NotificationFailures,
			global.NotificationsSkipped,
		)
	})
	return global
}
