package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests             *prometheus.CounterVec
	CounterHandlerPanics        *prometheus.CounterVec
	CounterRateLimitedRequests  prometheus.Counter
	CounterSessionsStarted      prometheus.Counter
	CounterSessionsEnded        *prometheus.CounterVec
	CounterTicks                prometheus.Counter
	CounterStorageReadFallbacks prometheus.Counter
	CounterStorageWriteFailures prometheus.Counter
	CounterCompletedOverwrites  prometheus.Counter
	CounterImports              *prometheus.CounterVec
	CounterBackups              *prometheus.CounterVec
	CounterStatsCacheLookups    *prometheus.CounterVec

	// gauges
	GaugeRequests       prometheus.Gauge
	GaugeLifeSignal     prometheus.Gauge
	GaugeActiveSessions prometheus.Gauge
	GaugeCurrentStreak  prometheus.Gauge

	// histograms
	HistogramRequestDuration *prometheus.HistogramVec
	HistogramSessionMinutes  prometheus.Histogram
	HistogramBackupDuration  prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("homecoach", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("homecoach", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterHandlerPanics := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handler_panics",
		Help:      "The total number of recovered handler panics, per route",
	}, []string{"route"})
	counterRateLimitedRequests := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_requests",
		Help:      "The total number of rate limited requests",
	})
	counterSessionsStarted := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions_started",
		Help:      "The total number of started workout sessions",
	})
	counterSessionsEnded := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions_ended",
		Help:      "The total number of ended workout sessions, by completion",
	}, []string{"completed"})
	counterTicks := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "playback_ticks",
		Help:      "The total number of accepted playback ticks",
	})
	counterStorageReadFallbacks := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "storage_read_fallbacks",
		Help:      "Number of progress loads that fell back to an empty store",
	})
	counterStorageWriteFailures := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "storage_write_failures",
		Help:      "Number of failed progress saves",
	})
	counterCompletedOverwrites := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "completed_day_overwrites",
		Help:      "Number of completed days replaced by an incomplete outcome",
	})
	counterImports := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "progress_imports",
		Help:      "Number of progress imports, by result",
	}, []string{"result"})
	counterBackups := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "progress_backups",
		Help:      "Number of progress backups, by result",
	}, []string{"result"})
	counterStatsCacheLookups := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stats_cache_lookups",
		Help:      "Number of stats cache lookups, by result",
	}, []string{"result"})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_requests",
		Help:      "Current number of requests served",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})
	gaugeActiveSessions := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_sessions",
		Help:      "Number of workout sessions not yet ended",
	})
	gaugeCurrentStreak := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_streak_days",
		Help:      "Current streak of completed days, as of the last stats computation",
	})

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status_code"})
	histogramSessionMinutes := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "session_audio_minutes",
		Help:      "Audio minutes played per ended session",
		Buckets:   []float64{1, 5, 10, 20, 30, 36, 45, 60, 90, 120},
	})
	histogramBackupDuration := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Buckets: []float64{
			0.001, 0.01, 0.1, 1, 10, 60, 120,
		},
		Name: "progress_backup_duration_seconds",
		Help: "Total duration of a single progress backup in seconds",
	})

	return &Manager{
		CounterRequests:             counterRequests,
		CounterHandlerPanics:        counterHandlerPanics,
		CounterRateLimitedRequests:  counterRateLimitedRequests,
		CounterSessionsStarted:      counterSessionsStarted,
		CounterSessionsEnded:        counterSessionsEnded,
		CounterTicks:                counterTicks,
		CounterStorageReadFallbacks: counterStorageReadFallbacks,
		CounterStorageWriteFailures: counterStorageWriteFailures,
		CounterCompletedOverwrites:  counterCompletedOverwrites,
		CounterImports:              counterImports,
		CounterBackups:              counterBackups,
		CounterStatsCacheLookups:    counterStatsCacheLookups,
		GaugeRequests:               gaugeRequests,
		GaugeLifeSignal:             gaugeLifeSignal,
		GaugeActiveSessions:         gaugeActiveSessions,
		GaugeCurrentStreak:          gaugeCurrentStreak,
		HistogramRequestDuration:    histogramRequestDuration,
		HistogramSessionMinutes:     histogramSessionMinutes,
		HistogramBackupDuration:     histogramBackupDuration,
	}
}
