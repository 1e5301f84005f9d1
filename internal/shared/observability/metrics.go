package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	EngineCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "msls_engine_call_seconds",
		Help:    "Time spent in one source-engine parse/check invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	EngineCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_engine_calls_total",
		Help: "Total number of source-engine invocations actually executed.",
	})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "msls_analysis_seconds",
		Help:    "End-to-end time for one scheduled module analysis.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	AnalysesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_analyses_cancelled_total",
		Help: "Analyses cancelled because a newer document version superseded them.",
	})

	AnalysisTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_analysis_timeouts_total",
		Help: "Analyses abandoned at the per-analysis deadline.",
	})

	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_cache_hits_total",
		Help: "Analysis cache lookups served from a fresh entry.",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_cache_misses_total",
		Help: "Analysis cache lookups requiring computation.",
	})

	CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_cache_evictions_total",
		Help: "Entries evicted from the analysis cache by the LRU policy.",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msls_cache_entries",
		Help: "Current number of analysis cache entries.",
	})

	OpenDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msls_open_documents",
		Help: "Number of documents currently open in the editor.",
	})

	GraphModules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msls_graph_modules",
		Help: "Number of modules tracked in the import graph.",
	})

	DiagnosticsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_diagnostics_published_total",
		Help: "Total diagnostics publish notifications sent to the client.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msls_watcher_events_total",
		Help: "File system events received for on-disk imported modules.",
	})

	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msls_pending_requests",
		Help: "Client requests currently in flight.",
	})
)
