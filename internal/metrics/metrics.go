// Package metrics exports pipeline counters to Prometheus. Every method is
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"snowline/internal/batch"
	"snowline/internal/catalog"
	"snowline/internal/services"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "snowline"

// Stage labels.
const (
	StageDownload = "download"
	StageProcess  = "process"
)

// Metrics holds the registered collectors.
type Metrics struct {
	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	bytesWritten *prometheus.CounterVec
	snowPct      prometheus.Histogram
	discovered   *prometheus.CounterVec
	statuses     *prometheus.GaugeVec
	gatherer     prometheus.Gatherer
}

// New registers the collectors with reg. Registering twice against the same
// registry reuses the existing collectors. When reg is also a Gatherer,
// Handler serves it.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error
	if m.units, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_total",
		Help:      "Work units finished, by stage and outcome.",
	}, []string{"stage", "outcome"})); err != nil {
		return nil, err
	}
	if m.unitDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "unit_duration_seconds",
		Help:      "Wall time of a work unit.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_retries_total",
		Help:      "Band fetch attempts that failed and were retried, by error kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if m.bytesWritten, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifact_bytes_total",
		Help:      "Bytes of raster artifacts written, by stage.",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if m.snowPct, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snow_cover_percent",
		Help:      "Snow cover of processed products.",
		Buckets:   prometheus.LinearBuckets(10, 10, 10),
	})); err != nil {
		return nil, err
	}
	if m.discovered, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "products_discovered_total",
		Help:      "Catalog search results, by whether they were new.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.statuses, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "products",
		Help:      "Products in the catalog, by download status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// ObserveUnit records a finished batch unit.
func (m *Metrics) ObserveUnit(stage string, r batch.Result) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(stage, r.Outcome.String()).Inc()
	m.unitDuration.WithLabelValues(stage).Observe(r.Duration.Seconds())
}

// RecordRetry counts a failed fetch attempt that will be retried.
func (m *Metrics) RecordRetry(err error) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(services.Kind(err)).Inc()
}

// AddArtifactBytes counts bytes written for a stage.
func (m *Metrics) AddArtifactBytes(stage string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.WithLabelValues(stage).Add(float64(n))
}

// ObserveSnowCover records the snow percentage of a processed product.
func (m *Metrics) ObserveSnowCover(pct float64) {
	if m == nil {
		return
	}
	m.snowPct.Observe(pct)
}

// RecordDiscovery counts products recorded by a discovery run.
func (m *Metrics) RecordDiscovery(created, skipped int) {
	if m == nil {
		return
	}
	m.discovered.WithLabelValues("created").Add(float64(created))
	m.discovered.WithLabelValues("skipped").Add(float64(skipped))
}

// SetStatusCounts publishes the current number of products per status.
// Statuses missing from counts are set to zero.
func (m *Metrics) SetStatusCounts(counts map[catalog.Status]int) {
	if m == nil {
		return
	}
	for _, status := range catalog.AllStatuses() {
		m.statuses.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
