package completion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/progress"
)

const (
	DefaultTargetMinutes     = 45
	DefaultThresholdFraction = 0.8

	msPerMinute int64 = 60_000
)

var ErrInvalidConfig = errors.New("invalid completion config")

// Config holds the workout goal a session is evaluated against.
type Config struct {
	TargetMinutes     int
	ThresholdFraction float64
}

func DefaultConfig() Config {
	return Config{
		TargetMinutes:     DefaultTargetMinutes,
		ThresholdFraction: DefaultThresholdFraction,
	}
}

func (c Config) Validate() error {
	if c.TargetMinutes <= 0 {
		return fmt.Errorf("%w: target minutes must be positive, got %d", ErrInvalidConfig, c.TargetMinutes)
	}
	if math.IsNaN(c.ThresholdFraction) || c.ThresholdFraction <= 0 || c.ThresholdFraction > 1 {
		return fmt.Errorf("%w: threshold fraction must be in (0, 1], got %v", ErrInvalidConfig, c.ThresholdFraction)
	}
	return nil
}

// ThresholdMs is the played time needed for the day to count as completed.
func (c Config) ThresholdMs() int64 {
	return ThresholdMs(c.TargetMinutes, c.ThresholdFraction)
}

func (c Config) Evaluate(accumulatedMs int64, now time.Time, cal *calendar.Calendar) progress.DayOutcome {
	return Evaluate(accumulatedMs, c.TargetMinutes, c.ThresholdFraction, now, cal)
}

func ThresholdMs(targetMinutes int, thresholdFraction float64) int64 {
	return int64(math.Round(float64(int64(targetMinutes)*msPerMinute) * thresholdFraction))
}

// AudioMinutes rounds played time to whole minutes, half up.
func AudioMinutes(accumulatedMs int64) int {
	if accumulatedMs <= 0 {
		return 0
	}
	return int((accumulatedMs + msPerMinute/2) / msPerMinute)
}

// CompletionPercentage is played time over target, rounded half up.
// It is not capped: playing past the target yields more than 100.
func CompletionPercentage(accumulatedMs int64, targetMinutes int) int {
	if accumulatedMs <= 0 || targetMinutes <= 0 {
		return 0
	}
	targetMs := int64(targetMinutes) * msPerMinute
	return int((2*accumulatedMs*100 + targetMs) / (2 * targetMs))
}

// Evaluate turns the played time of a session into the outcome of the day
// now falls on. Deterministic for the same inputs.
func Evaluate(accumulatedMs int64, targetMinutes int, thresholdFraction float64, now time.Time, cal *calendar.Calendar) progress.DayOutcome {
	if accumulatedMs < 0 {
		accumulatedMs = 0
	}
	return progress.DayOutcome{
		Date:                 cal.DateKey(now),
		Completed:            accumulatedMs >= ThresholdMs(targetMinutes, thresholdFraction),
		AudioMinutes:         AudioMinutes(accumulatedMs),
		CompletionPercentage: CompletionPercentage(accumulatedMs, targetMinutes),
		Timestamp:            now,
	}
}
