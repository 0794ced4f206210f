package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics содержит метрики движка заказов. Nil-получатель допустим: все методы no-op.
type EngineMetrics struct {
	ordersCreated        prometheus.Counter
	orderCreateDuration  prometheus.Histogram
	transitions          *prometheus.CounterVec
	transitionDuration   *prometheus.HistogramVec
	payments             *prometheus.CounterVec
	ipnResponses         *prometheus.CounterVec
	inventoryAdjustments prometheus.Counter
	loyaltyPoints        prometheus.Counter
	outboxEvents         *prometheus.CounterVec
	receiptSweeps        *prometheus.CounterVec
	receiptsPurged       prometheus.Counter
	outboxDispatch       *prometheus.CounterVec
	outboxPending        prometheus.Gauge
	outboxOldestAge      prometheus.Gauge
}

// NewEngineMetrics регистрирует метрики в DefaultRegisterer.
func NewEngineMetrics() *EngineMetrics {
	return NewEngineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewEngineMetricsWithRegisterer регистрирует метрики в переданном registerer (тесты используют свой registry).
func NewEngineMetricsWithRegisterer(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EngineMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_orders_created_total",
			Help: "Total number of orders persisted",
		}),
		orderCreateDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_order_create_duration_seconds",
			Help:    "Duration of order assembly including the persistence transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_order_transitions_total",
			Help: "Applied order status transitions by target status",
		}, []string{"to"}),
		transitionDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_order_transition_duration_seconds",
			Help:    "Duration of status transitions including side effects",
			Buckets: prometheus.DefBuckets,
		}, []string{"to"}),
		payments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_payments_total",
			Help: "Payment attempts by method and result",
		}, []string{"method", "result"}),
		ipnResponses: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_ipn_responses_total",
			Help: "Gateway IPN responses by response code",
		}, []string{"code"}),
		inventoryAdjustments: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_inventory_adjustments_total",
			Help: "Total number of inventory ledger entries appended",
		}),
		loyaltyPoints: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_loyalty_points_accrued_total",
			Help: "Total loyalty points accrued on completed orders",
		}),
		outboxEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_events_total",
			Help: "Total number of outbox intents written by event type",
		}, []string{"event_type"}),
		receiptSweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_receipt_sweeps_total",
			Help: "Command receipt sweeps by result",
		}, []string{"result"}),
		receiptsPurged: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_receipts_purged_total",
			Help: "Total number of expired command receipts removed",
		}),
		outboxDispatch: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_dispatch_attempts_total",
			Help: "Outbox dispatch attempts by event type and result",
		}, []string{"event_type", "result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_pending_records",
			Help: "Current number of pending outbox messages",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox message",
		}),
	}
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated учитывает созданный заказ и длительность сборки.
func (m *EngineMetrics) RecordOrderCreated(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.orderCreateDuration.Observe(duration.Seconds())
}

// RecordTransition учитывает применённый переход статуса.
func (m *EngineMetrics) RecordTransition(to string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
	m.transitionDuration.WithLabelValues(to).Observe(duration.Seconds())
}

// RecordPayment учитывает попытку оплаты; result: accepted, rejected, initiated.
func (m *EngineMetrics) RecordPayment(method, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method, result).Inc()
}

// RecordIPNResponse учитывает код ответа шлюзу.
func (m *EngineMetrics) RecordIPNResponse(code string) {
	if m == nil {
		return
	}
	m.ipnResponses.WithLabelValues(code).Inc()
}

// RecordInventoryAdjustments учитывает добавленные записи журнала.
func (m *EngineMetrics) RecordInventoryAdjustments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.inventoryAdjustments.Add(float64(n))
}

// RecordLoyaltyPoints учитывает начисленные баллы.
func (m *EngineMetrics) RecordLoyaltyPoints(points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.loyaltyPoints.Add(float64(points))
}

// RecordOutboxEvent учитывает записанное намерение уведомления.
func (m *EngineMetrics) RecordOutboxEvent(eventType string) {
	if m == nil {
		return
	}
	m.outboxEvents.WithLabelValues(eventType).Inc()
}

// RecordReceiptSweep учитывает проход очистки квитанций; result: ok или error.
func (m *EngineMetrics) RecordReceiptSweep(result string, purged int) {
	if m == nil {
		return
	}
	m.receiptSweeps.WithLabelValues(result).Inc()
	if purged > 0 {
		m.receiptsPurged.Add(float64(purged))
	}
}

// RecordOutboxDispatch учитывает попытку доставки сообщения outbox.
func (m *EngineMetrics) RecordOutboxDispatch(eventType, result string) {
	if m == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(eventType, result).Inc()
}

// SetOutboxBacklog выставляет размер backlog и возраст старейшего сообщения.
func (m *EngineMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}
