package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Simulation metrics
	ticksTotal       prometheus.Counter
	tickDuration     prometheus.Histogram
	ordersTotal      *prometheus.CounterVec
	tradesTotal      *prometheus.CounterVec
	loansOutstanding *prometheus.GaugeVec
	marginCallsTotal prometheus.Counter
	forcedCovers     prometheus.Counter
	splitsTotal      prometheus.Counter
	fearGreed        prometheus.Gauge
	globalPhase      *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Simulation metrics
	r.ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsim_ticks_total",
			Help: "Total number of simulation cycles completed",
		},
	)
	r.tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketsim_tick_duration_seconds",
			Help:    "Simulation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	r.ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsim_orders_total",
			Help: "Total number of orders by outcome",
		},
		[]string{"status"},
	)
	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsim_trades_total",
			Help: "Total number of executed trades",
		},
		[]string{"actor", "side"},
	)
	r.loansOutstanding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketsim_loans_outstanding",
			Help: "Number of outstanding loans",
		},
		[]string{"holder"},
	)
	r.marginCallsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsim_margin_calls_total",
			Help: "Total number of margin calls raised",
		},
	)
	r.forcedCovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsim_forced_covers_total",
			Help: "Total number of forced short covers",
		},
	)
	r.splitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsim_splits_total",
			Help: "Total number of stock splits applied",
		},
	)
	r.fearGreed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsim_fear_greed",
			Help: "Current Fear/Greed index (0-100)",
		},
	)
	r.globalPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketsim_global_phase",
			Help: "Current global market phase (1 = active)",
		},
		[]string{"phase"},
	)

	reg.MustRegister(r.ticksTotal)
	reg.MustRegister(r.tickDuration)
	reg.MustRegister(r.ordersTotal)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.loansOutstanding)
	reg.MustRegister(r.marginCallsTotal)
	reg.MustRegister(r.forcedCovers)
	reg.MustRegister(r.splitsTotal)
	reg.MustRegister(r.fearGreed)
	reg.MustRegister(r.globalPhase)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordTick records one completed simulation cycle.
func (r *Registry) RecordTick(duration float64) {
	r.ticksTotal.Inc()
	r.tickDuration.Observe(duration)
}

// RecordOrder records an order outcome: placed, executed, rejected,
// cancelled, or expired.
func (r *Registry) RecordOrder(status string) {
	r.ordersTotal.WithLabelValues(status).Inc()
}

// RecordTrade records an executed trade.
func (r *Registry) RecordTrade(actor, side string) {
	r.tradesTotal.WithLabelValues(actor, side).Inc()
}

// SetLoansOutstanding sets the loan count for a holder class.
func (r *Registry) SetLoansOutstanding(holder string, count int) {
	r.loansOutstanding.WithLabelValues(holder).Set(float64(count))
}

// RecordMarginCall records a raised margin call.
func (r *Registry) RecordMarginCall() {
	r.marginCallsTotal.Inc()
}

// RecordForcedCover records a forced short cover.
func (r *Registry) RecordForcedCover() {
	r.forcedCovers.Inc()
}

// RecordSplit records an applied stock split.
func (r *Registry) RecordSplit() {
	r.splitsTotal.Inc()
}

// SetFearGreed sets the Fear/Greed gauge.
func (r *Registry) SetFearGreed(value int) {
	r.fearGreed.Set(float64(value))
}

// SetGlobalPhase marks the active global phase among the known set.
func (r *Registry) SetGlobalPhase(active string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == active {
			v = 1
		}
		r.globalPhase.WithLabelValues(p).Set(v)
	}
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
