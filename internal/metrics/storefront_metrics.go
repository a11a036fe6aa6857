package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorefrontMetrics содержит метрики корзины и оформления заказа.
type StorefrontMetrics struct {
	// Счётчики операций корзины
	cartAdds       prometheus.Counter
	cartDecrements prometheus.Counter
	cartClears     prometheus.Counter

	// Счётчики оформления
	checkoutAccepted prometheus.Counter
	checkoutBlocked  *prometheus.CounterVec

	// Гистограмма времени submit
	checkoutDuration prometheus.Histogram

	// Счётчики сбоев персистентности (best-effort слой)
	snapshotSaveFailures  prometheus.Counter
	snapshotLoadFallbacks prometheus.Counter

	// Gauge для живых сессий с корзинами
	activeCarts prometheus.Gauge
}

// NewStorefrontMetrics создаёт новый экземпляр метрик storefront.
func NewStorefrontMetrics() *StorefrontMetrics {
	return newStorefrontMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newStorefrontMetricsWithRegisterer(registerer prometheus.Registerer) *StorefrontMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorefrontMetrics{
		cartAdds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_adds_total",
			Help: "Total number of line item add operations",
		}),
		cartDecrements: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_decrements_total",
			Help: "Total number of line item decrement operations",
		}),
		cartClears: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_clears_total",
			Help: "Total number of cart clear operations",
		}),
		checkoutAccepted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_accepted_total",
			Help: "Total number of checkout submissions accepted",
		}),
		checkoutBlocked: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_blocked_total",
			Help: "Total number of checkout submissions blocked by validation",
		}, []string{"reason"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout submissions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotSaveFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_snapshot_save_failures_total",
			Help: "Total number of best-effort snapshot writes that failed",
		}),
		snapshotLoadFallbacks: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_snapshot_load_fallbacks_total",
			Help: "Total number of snapshot loads that fell back to an empty cart",
		}),
		activeCarts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_carts",
			Help: "Number of cart sessions currently held in memory",
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

// RecordCartAdd увеличивает счётчик добавлений в корзину.
func (m *StorefrontMetrics) RecordCartAdd() {
	m.cartAdds.Inc()
}

// RecordCartDecrement увеличивает счётчик уменьшений количества.
func (m *StorefrontMetrics) RecordCartDecrement() {
	m.cartDecrements.Inc()
}

// RecordCartClear увеличивает счётчик очисток корзины.
func (m *StorefrontMetrics) RecordCartClear() {
	m.cartClears.Inc()
}

// RecordCheckoutAccepted увеличивает счётчик принятых оформлений.
func (m *StorefrontMetrics) RecordCheckoutAccepted() {
	m.checkoutAccepted.Inc()
}

// RecordCheckoutBlocked увеличивает счётчик заблокированных оформлений.
func (m *StorefrontMetrics) RecordCheckoutBlocked(reason string) {
	m.checkoutBlocked.WithLabelValues(reason).Inc()
}

// RecordCheckoutDuration записывает время обработки submit.
func (m *StorefrontMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordSnapshotSaveFailure фиксирует неудачную запись снапшота.
func (m *StorefrontMetrics) RecordSnapshotSaveFailure() {
	m.snapshotSaveFailures.Inc()
}

// RecordSnapshotLoadFallback фиксирует подмену нечитаемого снапшота пустой корзиной.
func (m *StorefrontMetrics) RecordSnapshotLoadFallback() {
	m.snapshotLoadFallbacks.Inc()
}

// RecordCartSessionStarted увеличивает количество живых корзин.
func (m *StorefrontMetrics) RecordCartSessionStarted() {
	m.activeCarts.Inc()
}

// RecordCartSessionFinished уменьшает количество живых корзин.
func (m *StorefrontMetrics) RecordCartSessionFinished() {
	m.activeCarts.Dec()
}
