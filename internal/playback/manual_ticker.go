package playback

import (
	"sync"
	"time"
)

// ManualTicker is a Ticker driven by explicit Fire calls.
type ManualTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

func (t *ManualTicker) C() <-chan time.Time {
	return t.c
}

func (t *ManualTicker) Stop() {
	t.once.Do(func() { close(t.stopped) })
}

// Fire blocks until the tick is received. It returns false if the ticker
// was stopped before anyone took the tick.
func (t *ManualTicker) Fire(now time.Time) bool {
	select {
	case t.c <- now:
		return true
	case <-t.stopped:
		return false
	}
}

func (t *ManualTicker) Factory() TickerFactory {
	return func(time.Duration) Ticker {
		return t
	}
}
