package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"formflow/matcher"
)

const metricsNamespace = "formflow"

// Metrics are the service's collectors, registered on one registry.
type Metrics struct {
	JobsTotal         *prometheus.CounterVec
	TransformDuration prometheus.Histogram
	ActionsTotal      *prometheus.CounterVec
	WarningsTotal     prometheus.Counter
	AnswersTotal      *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transform_jobs_total",
				Help:      "Total number of transform jobs by final status",
			},
			[]string{"status"},
		),
		TransformDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "transform_duration_seconds",
				Help:      "Duration of transform jobs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transform_actions_total",
				Help:      "Total number of transformed actions by kind",
			},
			[]string{"kind"},
		),
		WarningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transform_warnings_total",
				Help:      "Total number of generation warnings",
			},
		),
		AnswersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "questions_answered_total",
				Help:      "Total number of question answer attempts by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status class",
			},
			[]string{"route", "code"},
		),
	}
	reg.MustRegister(
		m.JobsTotal,
		m.TransformDuration,
		m.ActionsTotal,
		m.WarningsTotal,
		m.AnswersTotal,
		m.HTTPRequests,
	)
	return m
}

// MatcherCollector exposes a matcher's counters at scrape time.
type MatcherCollector struct {
	stats func() matcher.Stats

	searches  *prometheus.Desc
	cacheHits *prometheus.Desc
	found     *prometheus.Desc
	notFound  *prometheus.Desc
	poolSize  *prometheus.Desc
	cached    *prometheus.Desc
}

// NewMatcherCollector reads counters from stats on every scrape.
func NewMatcherCollector(stats func() matcher.Stats) *MatcherCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "matcher", name), help, nil, nil)
	}
	return &MatcherCollector{
		stats:     stats,
		searches:  desc("searches_total", "Question searches"),
		cacheHits: desc("cache_hits_total", "Searches answered from the question cache"),
		found:     desc("questions_found_total", "Searches that matched a heading by score"),
		notFound:  desc("questions_not_found_total", "Searches that matched nothing"),
		poolSize:  desc("heading_pool_size", "Visible headings in the current pool"),
		cached:    desc("cached_questions", "Questions held in the cache"),
	}
}

func (c *MatcherCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.searches
	ch <- c.cacheHits
	ch <- c.found
	ch <- c.notFound
	ch <- c.poolSize
	ch <- c.cached
}

func (c *MatcherCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.searches, prometheus.CounterValue, float64(s.TotalSearches))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.found, prometheus.CounterValue, float64(s.Found))
	ch <- prometheus.MustNewConstMetric(c.notFound, prometheus.CounterValue, float64(s.NotFound))
	ch <- prometheus.MustNewConstMetric(c.poolSize, prometheus.GaugeValue, float64(s.PoolSize))
	ch <- prometheus.MustNewConstMetric(c.cached, prometheus.GaugeValue, float64(s.CachedQuestions))
}
