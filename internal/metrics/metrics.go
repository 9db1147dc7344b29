package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry served at /metrics.
	Registry = prometheus.NewRegistry()

	// Deliveries counts delivery outcomes by event type and result.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookflow_deliveries_total", Help: "Webhook delivery sends by event type and outcome."},
		[]string{"event_type", "outcome"},
	)
	// DeliveryLatency tracks subscriber response times in milliseconds.
	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hookflow_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}},
		[]string{"event_type", "outcome"},
	)
	// DeadLetters counts attempts that exhausted their retry budget.
	DeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hookflow_dead_letters_total", Help: "Delivery attempts that exhausted all retries."},
		[]string{"event_type"},
	)
	// QueueDepth reports the number of dispatch jobs waiting in the queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hookflow_dispatch_queue_depth", Help: "Dispatch jobs waiting in the background queue."},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry exactly once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Deliveries)
		Registry.MustRegister(DeliveryLatency)
		Registry.MustRegister(DeadLetters)
		Registry.MustRegister(QueueDepth)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
