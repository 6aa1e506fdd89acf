package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the coordinator's prometheus collectors.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	providerResults *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	synthetic       *prometheus.CounterVec
	shared          *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
}

func New(registerer prometheus.Registerer) *Metrics {
	m := Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainfetch",
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by chain and result (hit|miss)",
			},
			[]string{"chain", "result"},
		),
		providerResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainfetch",
				Name:      "provider_results_total",
				Help:      "Terminal provider results by provider and status",
			},
			[]string{"provider", "status"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chainfetch",
				Name:      "provider_call_latency_ms",
				Help:      "Latency of a single provider call in milliseconds",
				Buckets:   prometheus.ExponentialBucketsRange(10, 30000, 12),
			},
			[]string{"provider"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainfetch",
				Name:      "provider_retries_total",
				Help:      "Retries scheduled after transient provider errors",
			},
			[]string{"provider"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainfetch",
				Name:      "fallbacks_total",
				Help:      "Times a chain advanced past a provider",
			},
			[]string{"chain", "provider", "status"},
		),
		synthetic: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainfetch",
				Name:      "synthetic_responses_total",
				Help:      "Responses served from the synthetic generator",
			},
			[]string{"chain"},
		),
		shared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainfetch",
				Name:      "singleflight_shared_total",
				Help:      "Fetches that joined an in-flight fetch for the same fingerprint",
			},
			[]string{"chain"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chainfetch",
				Name:      "fetch_timeouts_total",
				Help:      "Fetches whose caller deadline passed before a result was ready",
			},
			[]string{"chain"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chainfetch",
				Name:      "queue_depth",
				Help:      "Tasks waiting in a provider request queue",
			},
			[]string{"provider"},
		),
	}
	registerer.MustRegister(
		m.cacheLookups,
		m.providerResults,
		m.providerLatency,
		m.retries,
		m.fallbacks,
		m.synthetic,
		m.shared,
		m.timeouts,
		m.queueDepth,
	)
	return &m
}

// NewUnregistered returns metrics backed by a private registry. Handy for
// tests and for callers that do not expose /metrics.
func NewUnregistered() *Metrics { return New(prometheus.NewRegistry()) }

func (m *Metrics) CacheHit(chain string)  { m.cacheLookups.WithLabelValues(chain, "hit").Inc() }
func (m *Metrics) CacheMiss(chain string) { m.cacheLookups.WithLabelValues(chain, "miss").Inc() }

func (m *Metrics) ProviderResult(provider, status string, took time.Duration) {
	m.providerResults.WithLabelValues(provider, status).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(float64(took) / float64(time.Millisecond))
}

func (m *Metrics) Retry(provider string) { m.retries.WithLabelValues(provider).Inc() }

func (m *Metrics) Fallback(chain, provider, status string) {
	m.fallbacks.WithLabelValues(chain, provider, status).Inc()
}

func (m *Metrics) Synthetic(chain string) { m.synthetic.WithLabelValues(chain).Inc() }
func (m *Metrics) Shared(chain string)    { m.shared.WithLabelValues(chain).Inc() }
func (m *Metrics) Timeout(chain string)   { m.timeouts.WithLabelValues(chain).Inc() }

// QueueDepth returns the depth gauge of one provider queue.
func (m *Metrics) QueueDepth(provider string) prometheus.Gauge {
	return m.queueDepth.WithLabelValues(provider)
}
