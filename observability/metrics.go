package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chat_sync"

// Collector is a prometheus.Collector gathering the synchronizer metrics.
// A nil *Collector is valid and records nothing, which keeps tests free of registries.
type Collector struct {
	subscriptions     *prometheus.GaugeVec
	droppedSubs       *prometheus.CounterVec
	publishedEvents   *prometheus.CounterVec
	presenceChanges   *prometheus.CounterVec
	messageWrites     *prometheus.CounterVec
	writeDuration     prometheus.Histogram
	workerRestarts    *prometheus.CounterVec
	subscriptionQueue *prometheus.GaugeVec
}

func NewMetricsCollector() *Collector {
	return &Collector{
		subscriptions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "subscriptions",
				Help:      "The number of live subscriptions by stream.",
			}, []string{"stream"},
		),
		droppedSubs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dropped_subscriptions_total",
				Help:      "Subscriptions torn down by the server.",
			}, []string{"stream", "reason"},
		),
		publishedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "published_events_total",
				Help:      "Change events published to room topics.",
			}, []string{"kind"},
		),
		presenceChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "presence_transitions_total",
				Help:      "Typing transitions broadcast to presence subscribers.",
			}, []string{"typing", "cause"},
		),
		messageWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "message_writes_total",
				Help:      "Message store writes by operation and outcome.",
			}, []string{"operation", "outcome"},
		),
		writeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "message_write_seconds",
				Help:      "Time spent holding the room lock for a write.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		workerRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "worker_restarts_total",
				Help:      "Background workers restarted by the supervisor.",
			}, []string{"worker"},
		),
		subscriptionQueue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "subscription_backlog_max",
				Help:      "The longest pending backlog among the subscriptions of a room.",
			}, []string{"room"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.subscriptions.Describe(ch)
	c.droppedSubs.Describe(ch)
	c.publishedEvents.Describe(ch)
	c.presenceChanges.Describe(ch)
	c.messageWrites.Describe(ch)
	c.writeDuration.Describe(ch)
	c.workerRestarts.Describe(ch)
	c.subscriptionQueue.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.subscriptions.Collect(ch)
	c.droppedSubs.Collect(ch)
	c.publishedEvents.Collect(ch)
	c.presenceChanges.Collect(ch)
	c.messageWrites.Collect(ch)
	c.writeDuration.Collect(ch)
	c.workerRestarts.Collect(ch)
	c.subscriptionQueue.Collect(ch)
}

func (c *Collector) SubscriptionOpened(stream string) {
	if c == nil {
		return
	}
	c.subscriptions.WithLabelValues(stream).Inc()
}

func (c *Collector) SubscriptionClosed(stream string) {
	if c == nil {
		return
	}
	c.subscriptions.WithLabelValues(stream).Dec()
}

func (c *Collector) SubscriptionDropped(stream, reason string) {
	if c == nil {
		return
	}
	c.droppedSubs.WithLabelValues(stream, reason).Inc()
}

func (c *Collector) EventPublished(kind string) {
	if c == nil {
		return
	}
	c.publishedEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) PresenceTransition(typing bool, cause string) {
	if c == nil {
		return
	}
	label := "false"
	if typing {
		label = "true"
	}
	c.presenceChanges.WithLabelValues(label, cause).Inc()
}

func (c *Collector) MessageWrite(operation string, err error, seconds float64) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.messageWrites.WithLabelValues(operation, outcome).Inc()
	c.writeDuration.Observe(seconds)
}

func (c *Collector) WorkerRestarted(worker string) {
	if c == nil {
		return
	}
	c.workerRestarts.WithLabelValues(worker).Inc()
}

func (c *Collector) SubscriptionBacklog(room string, length int) {
	if c == nil {
		return
	}
	c.subscriptionQueue.WithLabelValues(room).Set(float64(length))
}
