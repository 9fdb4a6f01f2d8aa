package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every metric with the emitting service.
type Config struct {
	ServiceName string
	Environment string
}

// BillingMetrics captures billing engine health signals.
type BillingMetrics struct {
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	billingRuns        *prometheus.CounterVec
	billingRunDuration prometheus.Observer
	invoiceLines       prometheus.Counter
	unpricedLines      prometheus.Counter
	conflictRejections prometheus.Counter
	customerLockWait   prometheus.Observer
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton billing metrics registry using config labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the billing metrics singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "warebill"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	factory := promauto{registerer: registerer}

	httpRequests := factory.counterVec(prometheus.CounterOpts{
		Name:        "warebill_http_requests_total",
		Help:        "HTTP requests by route, method and status.",
		ConstLabels: constLabels,
	}, []string{"route", "method", "status"})

	httpDuration := factory.histogramVec(prometheus.HistogramOpts{
		Name:        "warebill_http_request_duration_seconds",
		Help:        "HTTP request latency by route.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"route"})

	billingRuns := factory.counterVec(prometheus.CounterOpts{
		Name:        "warebill_billing_runs_total",
		Help:        "Invoice generation runs by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})

	billingRunDuration := factory.histogram(prometheus.HistogramOpts{
		Name:        "warebill_billing_run_duration_seconds",
		Help:        "Duration of a single customer invoice generation run.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})

	invoiceLines := factory.counter(prometheus.CounterOpts{
		Name:        "warebill_invoice_lines_generated_total",
		Help:        "Invoice lines emitted by the billing aggregator.",
		ConstLabels: constLabels,
	})

	unpricedLines := factory.counter(prometheus.CounterOpts{
		Name:        "warebill_unpriced_lines_total",
		Help:        "Invoice lines flagged unpriced because no rate source defined the subtype.",
		ConstLabels: constLabels,
	})

	conflictRejections := factory.counter(prometheus.CounterOpts{
		Name:        "warebill_ratecard_conflicts_total",
		Help:        "Rate card writes rejected by the conflict validator.",
		ConstLabels: constLabels,
	})

	customerLockWait := factory.histogram(prometheus.HistogramOpts{
		Name:        "warebill_customer_lock_wait_seconds",
		Help:        "Time spent acquiring the per-customer billing lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		ConstLabels: constLabels,
	})

	return &BillingMetrics{
		httpRequests:       httpRequests,
		httpDuration:       httpDuration,
		billingRuns:        billingRuns,
		billingRunDuration: billingRunDuration,
		invoiceLines:       invoiceLines,
		unpricedLines:      unpricedLines,
		conflictRejections: conflictRejections,
		customerLockWait:   customerLockWait,
	}
}

// ObserveHTTPRequest records one served HTTP request.
func (m *BillingMetrics) ObserveHTTPRequest(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// IncBillingRun records an invoice generation outcome.
func (m *BillingMetrics) IncBillingRun(outcome string) {
	if m == nil {
		return
	}
	m.billingRuns.WithLabelValues(outcome).Inc()
}

// ObserveBillingRunDuration records how long one customer run took.
func (m *BillingMetrics) ObserveBillingRunDuration(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.billingRunDuration.Observe(elapsed.Seconds())
}

// AddInvoiceLines records emitted invoice lines.
func (m *BillingMetrics) AddInvoiceLines(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.invoiceLines.Add(float64(count))
}

// IncUnpricedLine records a line the resolver could not price.
func (m *BillingMetrics) IncUnpricedLine() {
	if m == nil {
		return
	}
	m.unpricedLines.Inc()
}

// IncConflictRejection records a write rejected by the conflict validator.
func (m *BillingMetrics) IncConflictRejection() {
	if m == nil {
		return
	}
	m.conflictRejections.Inc()
}

// ObserveCustomerLockWait records lock acquisition latency.
func (m *BillingMetrics) ObserveCustomerLockWait(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.customerLockWait.Observe(elapsed.Seconds())
}

// promauto mirrors the client_golang promauto factory but tolerates
// duplicate registration, which happens when tests rebuild the singleton.
type promauto struct {
	registerer prometheus.Registerer
}

func (f promauto) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.register(c)
	return c
}

func (f promauto) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.register(c)
	return c
}

func (f promauto) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	f.register(h)
	return h
}

func (f promauto) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.register(h)
	return h
}

func (f promauto) register(c prometheus.Collector) {
	if err := f.registerer.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}
