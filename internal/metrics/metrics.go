package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics собирает счётчики саг, webhooks, вызовов процессора и резерваций.
// Методы безопасны для nil-получателя, чтобы компоненты работали без метрик в тестах.
type Metrics struct {
	registry      *prometheus.Registry
	sagas         *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	processorCall *prometheus.HistogramVec
	reservations  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sagas: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_saga_total",
			Help: "Escrow saga executions by outcome",
		}, []string{"saga", "outcome"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Processor webhook events by handling result",
		}, []string{"type", "result"}),
		processorCall: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "processor_call_duration_seconds",
			Help:    "Payment processor call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		reservations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Seat reservation attempts by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) Saga(saga, outcome string) {
	if m == nil {
		return
	}
	m.sagas.WithLabelValues(saga, outcome).Inc()
}

func (m *Metrics) WebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ProcessorCall(op string, started time.Time) {
	if m == nil {
		return
	}
	m.processorCall.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
