package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
}

type MetricName string

const (
	MetricNameHeadersSubmitted MetricName = "headers_submitted"
	MetricNameSubmissionErrors MetricName = "submission_errors"
	MetricNameReorgs           MetricName = "reorgs"
	MetricNamePolls            MetricName = "polls"

	MetricNameNodeHeight   MetricName = "node_height"
	MetricNameLedgerHeight MetricName = "ledger_height"
)

func (m MetricName) String() string {
	return string(m)
}

const (
	NamespaceRelayer = "relayer"
	SubsystemBitcoin = "bitcoin"
	SubsystemLedger  = "ledger"
)

var (
	counters = map[MetricName]prometheus.Counter{
		MetricNameHeadersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceRelayer,
			Subsystem: SubsystemLedger,
			Name:      MetricNameHeadersSubmitted.String(),
			Help:      "Number of block headers accepted by the ledger",
		}),
		MetricNameSubmissionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceRelayer,
			Subsystem: SubsystemLedger,
			Name:      MetricNameSubmissionErrors.String(),
			Help:      "Number of failed header submissions",
		}),
		MetricNameReorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceRelayer,
			Subsystem: SubsystemBitcoin,
			Name:      MetricNameReorgs.String(),
			Help:      "Number of chain reorganisations relayed",
		}),
		MetricNamePolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceRelayer,
			Subsystem: SubsystemBitcoin,
			Name:      MetricNamePolls.String(),
			Help:      "Number of node polls",
		}),
	}
	gauges = map[MetricName]prometheus.Gauge{
		MetricNameNodeHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: NamespaceRelayer,
			Subsystem: SubsystemBitcoin,
			Name:      MetricNameNodeHeight.String(),
			Help:      "Best height reported by the bitcoin node",
		}),
		MetricNameLedgerHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: NamespaceRelayer,
			Subsystem: SubsystemLedger,
			Name:      MetricNameLedgerHeight.String(),
			Help:      "Main chain tip height of the ledger header chain",
		}),
	}
)

// NewMetrics registers the relayer collectors with the default registry.
// Registering twice is harmless.
func NewMetrics() *Metrics {
	for _, counter := range counters {
		_ = prometheus.Register(counter)
	}
	for _, gauge := range gauges {
		_ = prometheus.Register(gauge)
	}
	return &Metrics{}
}

func (m *Metrics) IncrCounter(name MetricName) {
	if counter, ok := counters[name]; ok {
		counter.Inc()
	}
}

func (m *Metrics) SetGauge(name MetricName, v float64) {
	if gauge, ok := gauges[name]; ok {
		gauge.Set(v)
	}
}

// Collector exposes a registered collector, mostly for tests.
func (m *Metrics) Collector(name MetricName) prometheus.Collector {
	if counter, ok := counters[name]; ok {
		return counter
	}
	if gauge, ok := gauges[name]; ok {
		return gauge
	}
	return nil
}

func RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
