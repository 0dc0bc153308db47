// Package metrics bundles the Prometheus collectors exposed by
// crawlhub's control API at /metrics.
//
// Grounded on aluiziolira-go-scrape-books/scraper/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector crawlhub registers.
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetchedTotal  *prometheus.CounterVec // labels: result={ok,network_error}
	PostingsWritten    prometheus.Counter
	FrontierRejections *prometheus.CounterVec // labels: reason={full,already_visited,budget_exceeded,depth_exceeded}
	JobsActive         prometheus.Gauge
	FetchDuration      prometheus.Histogram
	SearchLatency      prometheus.Histogram
}

// New constructs and registers all collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	pagesFetched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlhub_pages_fetched_total",
			Help: "Total page fetch attempts by result.",
		},
		[]string{"result"},
	)
	postings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawlhub_postings_written_total",
		Help: "Total word postings appended to index shards.",
	})
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlhub_frontier_rejections_total",
			Help: "Total frontier push rejections by reason.",
		},
		[]string{"reason"},
	)
	jobsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawlhub_jobs_active",
		Help: "Number of jobs currently in the Active state.",
	})
	fetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawlhub_fetch_duration_seconds",
		Help:    "Latency of a single page fetch.",
		Buckets: prometheus.DefBuckets,
	})
	searchLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawlhub_search_latency_seconds",
		Help:    "Latency of a search query evaluation.",
		Buckets: prometheus.DefBuckets,
	})

	reg.MustRegister(pagesFetched, postings, rejections, jobsActive, fetchDuration, searchLatency)

	return &Metrics{
		Registry:            reg,
		PagesFetchedTotal:   pagesFetched,
		PostingsWritten:     postings,
		FrontierRejections:  rejections,
		JobsActive:          jobsActive,
		FetchDuration:       fetchDuration,
		SearchLatency:       searchLatency,
	}
}
