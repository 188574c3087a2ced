package playback

import (
	"errors"
	"sync"
	"time"
)

var ErrSchedulerStopped = errors.New("scheduler stopped")

// Ticker is the periodic tick source a Scheduler owns.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(interval time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func NewRealTicker(interval time.Duration) Ticker {
	return realTicker{t: time.NewTicker(interval)}
}

// Scheduler feeds ticks from its Ticker into onTick on a single goroutine.
// Stop is synchronous: once it returns, onTick is not running and will not
// be called again.
type Scheduler struct {
	interval time.Duration
	factory  TickerFactory
	onTick   func(now time.Time)

	mutex   sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(interval time.Duration, factory TickerFactory, onTick func(now time.Time)) *Scheduler {
	if factory == nil {
		factory = NewRealTicker
	}
	return &Scheduler{
		interval: interval,
		factory:  factory,
		onTick:   onTick,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the tick goroutine. Calling it twice is a no-op,
// calling it after Stop fails.
func (s *Scheduler) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return nil
	}
	s.started = true

	ticker := s.factory(s.interval)
	go s.run(ticker)
	return nil
}

func (s *Scheduler) run(ticker Ticker) {
	defer close(s.doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C():
			// Stop may race with a ready tick, stopCh has priority
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.onTick(now)
		}
	}
}

// Stop must not be called from within onTick.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	started := s.started
	s.mutex.Unlock()

	if started {
		<-s.doneCh
	}
}

func (s *Scheduler) Running() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.started && !s.stopped
}
