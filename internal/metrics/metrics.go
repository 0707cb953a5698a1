// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

const namespace = "contrib_crawler"

// Upsert result label values.
const (
	ResultOK         = "ok"
	ResultMissingRef = "missing_reference"
	ResultError      = "error"
)

// Collectors groups every crawler metric registered on one registry.
type Collectors struct {
	harvestItems     *prometheus.CounterVec
	harvestRecovered prometheus.Counter
	upserts          *prometheus.CounterVec
	pages            *prometheus.CounterVec
	batchTransitions *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collectors{
		harvestItems: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "harvest_items_total",
				Help:      "Total number of list items consumed by the harvester, labeled by result.",
			},
			[]string{"result"},
		),
		harvestRecovered: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "harvest_recoveries_total",
				Help:      "Total number of page recoveries after a desynced list.",
			},
		),
		upserts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_upserts_total",
				Help:      "Total number of entity writes, labeled by entity and result.",
			},
			[]string{"entity", "result"},
		),
		pages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_total",
				Help:      "Total number of crawl targets handled, labeled by page type and outcome.",
			},
			[]string{"page", "outcome"},
		),
		batchTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_transitions_total",
				Help:      "Total number of batch status entries written, labeled by job type and status.",
			},
			[]string{"job_type", "status"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Handler returns an http.Handler exposing the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ItemHarvested counts an extracted list item.
func (c *Collectors) ItemHarvested() {
	c.harvestItems.WithLabelValues("harvested").Inc()
}

// ItemSkipped counts a list item dropped after exhausting its retries.
func (c *Collectors) ItemSkipped() {
	c.harvestItems.WithLabelValues("skipped").Inc()
}

// Recovered counts a page recovery.
func (c *Collectors) Recovered() {
	c.harvestRecovered.Inc()
}

// BatchTransition counts a batch status entry.
func (c *Collectors) BatchTransition(jobType graph.JobType, status graph.Status) {
	c.batchTransitions.WithLabelValues(string(jobType), string(status)).Inc()
}

// UpsertResult counts one entity write.
func (c *Collectors) UpsertResult(entity string, err error) {
	c.upserts.WithLabelValues(entity, upsertResult(err)).Inc()
}

// PageHandled counts one dispatched crawl target.
func (c *Collectors) PageHandled(page, outcome string) {
	c.pages.WithLabelValues(page, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func upsertResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, graph.ErrMissingReference):
		return ResultMissingRef
	default:
		return ResultError
	}
}
