package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics — метрики создания сессий и сверки оплат.
// Все методы безопасны для nil-получателя, чтобы метрики можно было не подключать в тестах.
type CheckoutMetrics struct {
	sessionsCreated  *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	processorLatency *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
	timelineEvents   prometheus.Counter
	outboxEnqueued   prometheus.Counter
	sweeps           *prometheus.CounterVec
}

// NewCheckoutMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		sessionsCreated: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_sessions_total",
			Help: "Checkout session creation attempts by result",
		}, []string{"result"})),
		settlements: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_settlements_total",
			Help: "Settlement checks by outcome",
		}, []string{"outcome"})),
		processorLatency: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_processor_request_duration_seconds",
			Help:    "Latency of payment processor calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"operation", "result"})),
		webhookEvents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_webhook_events_total",
			Help: "Payment processor webhook events by type and result",
		}, []string{"type", "result"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Checkout timeline events recorded",
		})),
		outboxEnqueued: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_outbox_enqueued_total",
			Help: "Order events written to the outbox",
		})),
		sweeps: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_pending_sweeps_total",
			Help: "Pending checkout sessions re-checked by the sweeper, by result",
		}, []string{"result"})),
	}
}

// register регистрирует коллектор или возвращает уже зарегистрированный коллектор того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector: %v", err))
}

// RecordSessionCreated учитывает попытку создать checkout-сессию.
func (m *CheckoutMetrics) RecordSessionCreated(result string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(result).Inc()
}

// RecordSettlement учитывает исход проверки оплаты.
func (m *CheckoutMetrics) RecordSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

// ObserveProcessorCall пишет длительность вызова платёжного провайдера.
func (m *CheckoutMetrics) ObserveProcessorCall(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.processorLatency.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

// RecordWebhookEvent учитывает обработанное событие вебхука.
func (m *CheckoutMetrics) RecordWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEnqueued увеличивает счётчик событий, записанных в outbox.
func (m *CheckoutMetrics) RecordOutboxEnqueued() {
	if m == nil {
		return
	}
	m.outboxEnqueued.Inc()
}

// RecordSweep учитывает результат повторной проверки висящей сессии.
func (m *CheckoutMetrics) RecordSweep(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
}
