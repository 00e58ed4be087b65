// Package metrics exposes harvest counters in Prometheus format.
//
// harvest is a batch tool, usually run from cron, so the metrics are not
// served over HTTP. Instead the registry is written to a textfile that the
// node_exporter textfile collector picks up.
//
// Every method is safe to call on a nil *Metrics, which lets components accept
// an optional collector without branching at each call site.
package metrics

import (
	"strconv"
	"time"

	"github.com/nao1215/harvest/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "harvest"

// Metrics holds the collectors for one harvest process.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	outcomes      *prometheus.CounterVec
	bytesWritten  prometheus.Counter
	pagesCrawled  prometheus.Counter
	frontier      prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "HTTP fetches by status code (0 for transport failures).",
		}, []string{"code"}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time until response headers were received.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Classified fetch outcomes by kind and phase.",
		}, []string{"kind", "source"}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes of documents written to disk.",
		}),
		pagesCrawled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_crawled_total",
			Help:      "Pages fetched and scanned for links.",
		}),
		frontier: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_size",
			Help:      "URLs discovered but not yet expanded.",
		}),
	}
}

// ObserveFetch records one HTTP round trip.
func (m *Metrics) ObserveFetch(code int, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(strconv.Itoa(code)).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// ObserveOutcome records a classified outcome.
func (m *Metrics) ObserveOutcome(o model.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(o.Kind.String(), o.Source).Inc()
	if o.Kind == model.OutcomeSaved {
		m.bytesWritten.Add(float64(o.Bytes))
	}
}

// PageCrawled counts a scanned page.
func (m *Metrics) PageCrawled() {
	if m == nil {
		return
	}
	m.pagesCrawled.Inc()
}

// SetFrontier records the current frontier size.
func (m *Metrics) SetFrontier(n int) {
	if m == nil {
		return
	}
	m.frontier.Set(float64(n))
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is written atomically so a concurrent scrape never sees a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
