package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2beens/homecoach/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// Manager keeps the live sessions of the process.
type Manager struct {
	mutex    sync.Mutex
	sessions map[string]*Session

	recorder recorder
	stats    statsProvider
	opts     Options
}

func NewManager(recorder recorder, statsProvider statsProvider, opts Options) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		recorder: recorder,
		stats:    statsProvider,
		opts:     opts.withDefaults(),
	}
}

func (m *Manager) ServerTicks() bool {
	return m.opts.ServerTicks
}

// Create starts a new session and registers it.
func (m *Manager) Create() (*Session, error) {
	s := New(m.recorder, m.stats, m.opts)
	if err := s.Start(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	m.sessions[s.ID()] = s
	m.mutex.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.GaugeActiveSessions.Inc()
	}
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) Active() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.sessions)
}

// End ends the session and forgets it.
func (m *Manager) End(ctx context.Context, id string) (Result, error) {
	s, err := m.Get(id)
	if err != nil {
		return Result{}, err
	}
	m.remove(id)
	return s.End(ctx)
}

func (m *Manager) remove(id string) {
	m.mutex.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mutex.Unlock()

	if ok && m.opts.Metrics != nil {
		m.opts.Metrics.GaugeActiveSessions.Dec()
	}
}

// Reap ends sessions with no activity for longer than idle. Reaped sessions
// still record their outcome. Returns the number of reaped sessions.
func (m *Manager) Reap(ctx context.Context, idle time.Duration) (reaped int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.manager.reap")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	now := m.opts.Clock.Now()
	var stale []string
	m.mutex.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > idle {
			stale = append(stale, id)
		}
	}
	m.mutex.Unlock()

	for _, id := range stale {
		result, endErr := m.End(ctx, id)
		if endErr != nil && !errors.Is(endErr, ErrSessionNotFound) {
			err = multierr.Append(err, fmt.Errorf("reap session %s: %w", id, endErr))
			continue
		}
		if endErr == nil {
			reaped++
			log.Infof("reaped idle session %s: %d min, completed: %t", id, result.Outcome.AudioMinutes, result.Outcome.Completed)
		}
	}
	span.SetAttributes(attribute.Int("reaped", reaped))
	return reaped, err
}

// RunJanitor reaps idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugln("session janitor stopped")
			return
		case <-ticker.C:
			if _, err := m.Reap(ctx, idle); err != nil {
				log.Errorf("session janitor: %s", err)
			}
		}
	}
}

// Shutdown ends all live sessions, so their progress is not lost.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mutex.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mutex.Unlock()

	var err error
	for _, id := range ids {
		if _, endErr := m.End(ctx, id); endErr != nil && !errors.Is(endErr, ErrSessionNotFound) {
			err = multierr.Append(err, fmt.Errorf("end session %s: %w", id, endErr))
		}
	}
	log.Debugf("session manager shut down, ended %d sessions", len(ids))
	return err
}
