package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/completion"
	"github.com/2beens/homecoach/internal/playback"
	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/stats"
	"github.com/2beens/homecoach/internal/telemetry/metrics"
	"github.com/2beens/homecoach/internal/telemetry/tracing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

//go:generate mockgen -source=$GOFILE -destination=session_mocks_test.go -package=session_test

var (
	ErrSessionEnded        = errors.New("session already ended")
	ErrSessionNotFound     = errors.New("session not found")
	ErrClientTicksDisabled = errors.New("ticks are driven by the server")
)

const DefaultTickInterval = time.Second

type recorder interface {
	Record(ctx context.Context, outcome progress.DayOutcome) error
}

type statsProvider interface {
	Current(ctx context.Context) (stats.AggregateStats, error)
}

// Subscriber receives live progress after every accepted tick.
type Subscriber interface {
	OnProgress(p Progress)
}

type SubscriberFunc func(p Progress)

func (f SubscriberFunc) OnProgress(p Progress) {
	f(p)
}

type Progress struct {
	SessionID            string         `json:"sessionId"`
	Phase                playback.Phase `json:"phase"`
	Running              bool           `json:"running"`
	AccumulatedMs        int64          `json:"accumulatedMs"`
	AudioMinutes         int            `json:"audioMinutes"`
	CompletionPercentage int            `json:"completionPercentage"`
}

// Result is what ending a session yields. PersistErr is set when the outcome
// was recorded in memory but could not be saved.
type Result struct {
	Outcome    progress.DayOutcome
	Stats      stats.AggregateStats
	PersistErr error
}

type Options struct {
	Completion completion.Config
	Calendar   *calendar.Calendar
	Clock      calendar.Clock

	// ServerTicks makes the session scheduler the only tick source,
	// otherwise ticks come from the client through Tick.
	ServerTicks   bool
	TickInterval  time.Duration
	TickerFactory playback.TickerFactory

	Metrics *metrics.Manager
}

func (o Options) withDefaults() Options {
	if o.Completion == (completion.Config{}) {
		o.Completion = completion.DefaultConfig()
	}
	if o.Calendar == nil {
		o.Calendar = calendar.New(time.Local, time.Sunday)
	}
	if o.Clock == nil {
		o.Clock = calendar.SystemClock{}
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	return o
}

// Session is a single workout: it accumulates playback time and turns it
// into the day's outcome when it ends.
type Session struct {
	id       string
	opts     Options
	recorder recorder
	stats    statsProvider

	mutex        sync.Mutex
	state        playback.State
	scheduler    *playback.Scheduler
	subscribers  []Subscriber
	createdAt    time.Time
	lastActivity time.Time
}

func New(recorder recorder, statsProvider statsProvider, opts Options) *Session {
	opts = opts.withDefaults()
	now := opts.Clock.Now()
	return &Session{
		id:           uuid.NewString(),
		opts:         opts,
		recorder:     recorder,
		stats:        statsProvider,
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) LastActivity() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastActivity
}

func (s *Session) Subscribe(sub Subscriber) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Start begins playback accounting from zero.
func (s *Session) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state, err := s.state.Start()
	if err != nil {
		if s.state.Ended() {
			return ErrSessionEnded
		}
		return err
	}
	s.state = state
	s.touch()

	if s.opts.ServerTicks {
		s.scheduler = playback.NewScheduler(s.opts.TickInterval, s.opts.TickerFactory, s.onScheduledTick)
		if err := s.scheduler.Start(); err != nil {
			return fmt.Errorf("start tick scheduler: %w", err)
		}
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.CounterSessionsStarted.Inc()
	}
	log.Debugf("session %s started, server ticks: %t", s.id, s.opts.ServerTicks)
	return nil
}

func (s *Session) Play() (Progress, error) {
	return s.transition(func(st playback.State) playback.State { return st.Play() })
}

func (s *Session) Pause() (Progress, error) {
	return s.transition(func(st playback.State) playback.State { return st.Pause() })
}

func (s *Session) transition(next func(playback.State) playback.State) (Progress, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state.Ended() {
		return s.progressLocked(), ErrSessionEnded
	}
	s.state = next(s.state)
	s.touch()
	return s.progressLocked(), nil
}

// Tick is the client driven tick. Not allowed when the server ticks.
func (s *Session) Tick() (Progress, error) {
	if s.opts.ServerTicks {
		return s.Poll(), ErrClientTicksDisabled
	}
	return s.tick(true)
}

// onScheduledTick credits time but is not client activity, so a session
// the client walked away from still goes idle and gets reaped.
func (s *Session) onScheduledTick(time.Time) {
	if _, err := s.tick(false); err != nil && !errors.Is(err, ErrSessionEnded) {
		log.Errorf("session %s: scheduled tick: %s", s.id, err)
	}
}

// tick notifies subscribers outside of the lock.
func (s *Session) tick(fromClient bool) (Progress, error) {
	s.mutex.Lock()
	if fromClient {
		s.touch()
	}
	if s.state.Ended() {
		p := s.progressLocked()
		s.mutex.Unlock()
		return p, ErrSessionEnded
	}

	next, accepted := s.state.Tick()
	if !accepted {
		p := s.progressLocked()
		s.mutex.Unlock()
		return p, nil
	}
	s.state = next
	p := s.progressLocked()
	subscribers := append([]Subscriber(nil), s.subscribers...)
	s.mutex.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.CounterTicks.Inc()
	}
	for _, sub := range subscribers {
		sub.OnProgress(p)
	}
	return p, nil
}

func (s *Session) Progress() Progress {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.progressLocked()
}

// Poll is Progress as read by the client, which counts as activity.
func (s *Session) Poll() Progress {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.state.Ended() {
		s.touch()
	}
	return s.progressLocked()
}

func (s *Session) Ended() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state.Ended()
}

func (s *Session) progressLocked() Progress {
	return Progress{
		SessionID:            s.id,
		Phase:                s.state.Phase,
		Running:              s.state.Running,
		AccumulatedMs:        s.state.AccumulatedMs,
		AudioMinutes:         completion.AudioMinutes(s.state.AccumulatedMs),
		CompletionPercentage: completion.CompletionPercentage(s.state.AccumulatedMs, s.opts.Completion.TargetMinutes),
	}
}

func (s *Session) touch() {
	s.lastActivity = s.opts.Clock.Now()
}

// End freezes playback, stops the scheduler and records the day's outcome.
// Ending early still yields an outcome. Only the first End succeeds.
func (s *Session) End(ctx context.Context) (result Result, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.end")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("session", s.id))

	s.mutex.Lock()
	if s.state.Ended() {
		s.mutex.Unlock()
		return Result{}, ErrSessionEnded
	}
	s.state = s.state.End()
	s.touch()
	scheduler := s.scheduler
	s.mutex.Unlock()

	// a tick in flight waits on the lock and then sees the ended state
	if scheduler != nil {
		scheduler.Stop()
	}

	accumulatedMs := s.Progress().AccumulatedMs
	result.Outcome = s.opts.Completion.Evaluate(accumulatedMs, s.opts.Clock.Now(), s.opts.Calendar)
	span.SetAttributes(
		attribute.Int64("accumulated_ms", accumulatedMs),
		attribute.Bool("completed", result.Outcome.Completed),
	)

	if err := s.recorder.Record(ctx, result.Outcome); err != nil {
		if !errors.Is(err, progress.ErrStorageWrite) {
			return Result{}, fmt.Errorf("record outcome: %w", err)
		}
		log.Warnf("session %s: outcome kept in memory only: %s", s.id, err)
		result.PersistErr = err
	}

	result.Stats, err = s.stats.Current(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("compute stats: %w", err)
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.CounterSessionsEnded.WithLabelValues(strconv.FormatBool(result.Outcome.Completed)).Inc()
		s.opts.Metrics.HistogramSessionMinutes.Observe(float64(result.Outcome.AudioMinutes))
	}
	log.Infof(
		"session %s ended: %s, %d min, %d%%, completed: %t, streak: %d",
		s.id, result.Outcome.Date, result.Outcome.AudioMinutes, result.Outcome.CompletionPercentage,
		result.Outcome.Completed, result.Stats.CurrentStreak,
	)

	return result, nil
}
