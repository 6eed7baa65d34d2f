package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconMetrics содержит метрики механизма сверки платежей.
type ReconMetrics struct {
	// Счётчик исходов сверки по терминальным состояниям.
	outcomes *prometheus.CounterVec

	// Гистограмма времени обработки одного уведомления.
	reconcileDuration prometheus.Histogram

	// Счётчики доставки уведомлений после коммита.
	notifications *prometheus.CounterVec

	// Счётчик задетых транзакцией остатков.
	stockDecrements prometheus.Counter
}

// NewReconMetrics создаёт новый экземпляр метрик сверки.
func NewReconMetrics() *ReconMetrics {
	return newReconMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newReconMetricsWithRegisterer(registerer prometheus.Registerer) *ReconMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconMetrics{
		outcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_webhook_outcomes_total",
			Help: "Total number of webhook reconciliations grouped by terminal outcome",
		}, []string{"outcome"}),
		reconcileDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "recon_reconcile_duration_seconds",
			Help:    "Duration of a single webhook reconciliation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_notifications_total",
			Help: "Total number of post-commit notification attempts grouped by result",
		}, []string{"result"}),
		stockDecrements: registerCounter(registerer, prometheus.CounterOpts{
			Name: "recon_stock_decrements_total",
			Help: "Total number of product stock decrements applied by reconciliation",
		}),
	}
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

// RecordOutcome увеличивает счётчик терминального исхода сверки.
func (m *ReconMetrics) RecordOutcome(outcome string) {
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RecordReconcileDuration записывает время обработки уведомления.
func (m *ReconMetrics) RecordReconcileDuration(duration time.Duration) {
	m.reconcileDuration.Observe(duration.Seconds())
}

// RecordNotification фиксирует результат попытки отправить уведомление.
func (m *ReconMetrics) RecordNotification(result string) {
	m.notifications.WithLabelValues(result).Inc()
}

// RecordStockDecrements фиксирует списания остатков, применённые
// закоммиченной транзакцией сверки.
func (m *ReconMetrics) RecordStockDecrements(count int) {
	if count <= 0 {
		return
	}
	m.stockDecrements.Add(float64(count))
}
