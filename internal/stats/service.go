package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/telemetry/metrics"
	"github.com/2beens/homecoach/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	oneDay             = 24 * 60 * 60
	statsCacheExpire   = oneDay
	defaultCacheSizeMB = 1
)

//go:generate mockgen -source=$GOFILE -destination=service_mocks_test.go -package=stats_test

type progressSource interface {
	Snapshot() (progress.Store, uint64)
	Revision() uint64
}

// Service serves the stats of the current progress. Computed stats are
// memoized per (store revision, day), a miss recomputes them from the store.
type Service struct {
	source     progressSource
	aggregator *Aggregator
	clock      calendar.Clock
	cache      *freecache.Cache
	metrics    *metrics.Manager
}

func NewService(
	source progressSource,
	aggregator *Aggregator,
	clock calendar.Clock,
	cacheSizeMB int,
	metricsManager *metrics.Manager,
) *Service {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	if cacheSizeMB <= 0 {
		cacheSizeMB = defaultCacheSizeMB
	}
	megabyte := 1024 * 1024
	return &Service{
		source:     source,
		aggregator: aggregator,
		clock:      clock,
		cache:      freecache.NewCache(cacheSizeMB * megabyte),
		metrics:    metricsManager,
	}
}

func (s *Service) Today() calendar.DateKey {
	return s.aggregator.cal.Today(s.clock)
}

// Current returns the stats as of today.
func (s *Service) Current(ctx context.Context) (AggregateStats, error) {
	return s.On(ctx, s.Today())
}

// On returns the stats as they look on the given day.
func (s *Service) On(ctx context.Context, today calendar.DateKey) (stats AggregateStats, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "service.stats.on")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("today", string(today)))

	cacheKey := fmt.Sprintf("stats::%d::%s", s.source.Revision(), today)
	if statsBytes, err := s.cache.Get([]byte(cacheKey)); err == nil {
		if err := json.Unmarshal(statsBytes, &stats); err == nil {
			s.countLookup("hit")
			span.SetAttributes(attribute.Bool("cached", true))
			return stats, nil
		} else {
			log.Errorf("failed to unmarshal stats from cache [%s]: %s", cacheKey, err)
		}
	}
	s.countLookup("miss")

	store, revision := s.source.Snapshot()
	stats, err = s.aggregator.Compute(store, today)
	if err != nil {
		return AggregateStats{}, fmt.Errorf("compute stats: %w", err)
	}
	if s.metrics != nil && today == s.Today() {
		s.metrics.GaugeCurrentStreak.Set(float64(stats.CurrentStreak))
	}

	// keyed by the revision the stats were computed from, which may be newer than the looked up one
	cacheKey = fmt.Sprintf("stats::%d::%s", revision, today)
	statsBytes, err := json.Marshal(stats)
	if err != nil {
		log.Errorf("failed to marshal stats for cache: %s", err)
		return stats, nil
	}
	if err := s.cache.Set([]byte(cacheKey), statsBytes, statsCacheExpire); err != nil {
		log.Errorf("failed to write stats cache [%s]: %s", cacheKey, err)
	}

	return stats, nil
}

// Compute bypasses the cache, for stores that are not the live one.
func (s *Service) Compute(store progress.Store, today calendar.DateKey) (AggregateStats, error) {
	return s.aggregator.Compute(store, today)
}

func (s *Service) countLookup(result string) {
	if s.metrics != nil {
		s.metrics.CounterStatsCacheLookups.WithLabelValues(result).Inc()
	}
}
