package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 抓取与容错相关的Prometheus指标,注册在独立的registry上
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetched    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	BreakerTrips    prometheus.Counter
	RateLimitedHits prometheus.Counter
	ChallengesTotal *prometheus.CounterVec
	ItemsReconciled *prometheus.CounterVec
}

// NewMetrics 创建并注册所有指标
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkm_pages_fetched_total",
			Help: "Pages fetched by scan direction.",
		},
		[]string{"direction"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pkm_fetch_duration_seconds",
			Help:    "Latency of single page fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pkm_retries_total",
			Help: "Retries scheduled by the resilience policy.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkm_errors_total",
			Help: "Operation failures by error class.",
		},
		[]string{"error_type"},
	)
	trips := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pkm_breaker_trips_total",
			Help: "Circuit breaker cooldowns entered.",
		},
	)
	limited := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pkm_rate_limited_total",
			Help: "Rate-limit or block responses observed.",
		},
	)
	challenges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkm_challenges_total",
			Help: "Interactive challenges by outcome.",
		},
		[]string{"outcome"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkm_items_reconciled_total",
			Help: "Catalog items touched by reconciliation.",
		},
		[]string{"action"},
	)

	registry.MustRegister(pages, duration, retries, errorsTotal, trips, limited, challenges, items)

	return &Metrics{
		Registry:        registry,
		PagesFetched:    pages,
		FetchDuration:   duration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		BreakerTrips:    trips,
		RateLimitedHits: limited,
		ChallengesTotal: challenges,
		ItemsReconciled: items,
	}
}

// IncPage 记录一次成功抓取的页面
func (m *Metrics) IncPage(direction string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(direction).Inc()
}

// ObserveFetch 记录一次抓取耗时
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncTrip() {
	if m == nil {
		return
	}
	m.BreakerTrips.Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedHits.Inc()
}

// IncChallenge outcome: seen, resolved, timeout
func (m *Metrics) IncChallenge(outcome string) {
	if m == nil {
		return
	}
	m.ChallengesTotal.WithLabelValues(outcome).Inc()
}

// AddItems action: added, merged, removed
func (m *Metrics) AddItems(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsReconciled.WithLabelValues(action).Add(float64(n))
}

// WriteTextfile 以node_exporter textfile格式导出
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
