package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/metrics"
	"github.com/2beens/homecoach/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type ImportMode string

const (
	// ImportReplace swaps the whole store for the imported one (restore).
	ImportReplace ImportMode = "replace"
	// ImportMerge upserts every imported day over the current store.
	ImportMerge ImportMode = "merge"
)

func (m ImportMode) IsValid() bool {
	return m == ImportReplace || m == ImportMerge
}

// Service owns the in-memory store, which is the source of truth for the
// running process, and mirrors every change to the backend.
// Writes are serialized, so the backend always sees changes in memory order.
type Service struct {
	mutex    sync.RWMutex
	backend  Backend
	clock    calendar.Clock
	metrics  *metrics.Manager
	current  Store
	revision uint64
}

func NewService(backend Backend, clock calendar.Clock, metricsManager *metrics.Manager) *Service {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	return &Service{
		backend: backend,
		clock:   clock,
		metrics: metricsManager,
		current: NewStore(),
	}
}

// Load reads the persisted store. It never fails: absent or corrupt data
// results in an empty store and a warning.
func (s *Service) Load(ctx context.Context) Store {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.progress.load")
	defer span.End()

	store, err := s.backend.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrStorageRead) {
			err = fmt.Errorf("%w: %w", ErrStorageRead, err)
		}
		log.Warnf("progress load failed, falling back to empty store: %s", err)
		span.RecordError(err)
		if s.metrics != nil {
			s.metrics.CounterStorageReadFallbacks.Inc()
		}
		store = NewStore()
	} else if err := store.validate(); err != nil {
		log.Warnf("progress load returned invalid data, falling back to empty store: %s", err)
		if s.metrics != nil {
			s.metrics.CounterStorageReadFallbacks.Inc()
		}
		store = NewStore()
	}
	span.SetAttributes(attribute.Int("days", len(store)))

	s.mutex.Lock()
	s.current = store
	s.revision++
	s.mutex.Unlock()

	log.Debugf("progress loaded: %d days", len(store))
	return store.Clone()
}

// Current returns a copy of the in-memory store.
func (s *Service) Current() Store {
	store, _ := s.Snapshot()
	return store
}

// Snapshot returns a copy of the store together with its revision.
// The revision changes whenever the store does.
func (s *Service) Snapshot() (Store, uint64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current.Clone(), s.revision
}

func (s *Service) Revision() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.revision
}

// Record upserts the outcome and persists the store. A returned
// ErrStorageWrite is not fatal: the in-memory store already holds the outcome.
func (s *Service) Record(ctx context.Context, outcome DayOutcome) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.progress.record")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("date", string(outcome.Date)),
		attribute.Bool("completed", outcome.Completed),
	)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous, had := s.current.Get(outcome.Date)
	updated, err := s.current.Upsert(outcome)
	if err != nil {
		return err
	}
	// last write wins, even a short session after a completed one
	if had && previous.Completed && !outcome.Completed {
		log.Warnf(
			"completed day %s (%d min) replaced by incomplete outcome (%d min)",
			outcome.Date, previous.AudioMinutes, outcome.AudioMinutes,
		)
		if s.metrics != nil {
			s.metrics.CounterCompletedOverwrites.Inc()
		}
	}
	s.current = updated
	s.revision++

	return s.persist(ctx)
}

func (s *Service) Export() ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return Export(s.current, s.clock.Now())
}

// Import applies a snapshot. An invalid snapshot leaves the store untouched
// and returns ErrInvalidImport.
func (s *Service) Import(ctx context.Context, data []byte, mode ImportMode) (_ Store, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.progress.import")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
		if s.metrics != nil {
			result := "ok"
			switch {
			case errors.Is(err, ErrInvalidImport):
				result = "invalid"
			case err != nil:
				result = "write_failed"
			}
			s.metrics.CounterImports.WithLabelValues(result).Inc()
		}
	}()
	span.SetAttributes(attribute.String("mode", string(mode)))

	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown import mode %q", ErrInvalidImport, mode)
	}

	imported, err := Import(data)
	if err != nil {
		log.Warnf("progress import rejected: %s", err)
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch mode {
	case ImportReplace:
		s.current = imported
	case ImportMerge:
		merged := s.current.Clone()
		for date, outcome := range imported {
			merged[date] = outcome
		}
		s.current = merged
	}
	s.revision++

	log.Infof("progress imported (%s): %d days, store now has %d days", mode, len(imported), len(s.current))
	return s.current.Clone(), s.persist(ctx)
}

// Reset clears all progress.
func (s *Service) Reset(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.current = NewStore()
	s.revision++
	log.Warnln("progress reset")
	return s.persist(ctx)
}

// persist must be called with the write lock held.
func (s *Service) persist(ctx context.Context) error {
	if err := s.backend.Save(ctx, s.current); err != nil {
		log.Errorf("progress save failed, keeping in-memory state: %s", err)
		if s.metrics != nil {
			s.metrics.CounterStorageWriteFailures.Inc()
		}
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return nil
}
