package metrics

// Provider is the sink for service metrics. Implementations live in
// pkg/observability.
type Provider interface {
	Count(name string, value float64, tags []string) error
	Gauge(name string, value float64, tags []string) error
	Histogram(name string, value float64, tags []string) error
}

// Metric names emitted by the service.
const (
	WebhookEvents         = "webhook.events"
	EmailSent             = "email.sent"
	NewsletterTransitions = "newsletter.transitions"
	HTTPRequestLatency    = "http.request.latency_ms"
	FeedbackNotifications = "feedback.notifications"
)
