package stats

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/progress"
)

const DefaultWeeklyGoal = 5

var ErrInvalidPolicy = errors.New("invalid streak policy")

// StreakPolicy decides which most recent completed day keeps a streak current.
type StreakPolicy string

const (
	// PolicyTodayOrYesterday keeps the streak alive until the end of today
	// when yesterday was completed and today not yet.
	PolicyTodayOrYesterday StreakPolicy = "today_or_yesterday"
	// PolicyTodayOnly counts a streak only once today is completed.
	PolicyTodayOnly StreakPolicy = "today_only"
)

func ParseStreakPolicy(s string) (StreakPolicy, error) {
	switch p := StreakPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyTodayOrYesterday, nil
	case PolicyTodayOrYesterday, PolicyTodayOnly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// maxAnchorGap is how many days back the most recent completed day may lie.
func (p StreakPolicy) maxAnchorGap() int {
	if p == PolicyTodayOnly {
		return 0
	}
	return 1
}

type AggregateStats struct {
	CurrentStreak       int              `json:"currentStreak"`
	LongestStreak       int              `json:"longestStreak"`
	WeeklyDaysCompleted int              `json:"weeklyDaysCompleted"`
	WeeklyGoal          int              `json:"weeklyGoal"`
	WeeklyPercentage    int              `json:"weeklyPercentage"`
	DaysRemaining       int              `json:"daysRemaining"`
	TotalWorkouts       int              `json:"totalWorkouts"`
	TotalMinutes        int              `json:"totalMinutes"`
	WeekStart           calendar.DateKey `json:"weekStart"`
	LastUpdated         time.Time        `json:"lastUpdated"`
}

// Aggregator derives AggregateStats from a progress store. It holds no state
// besides its settings, so the same store and day always give the same stats.
type Aggregator struct {
	cal        *calendar.Calendar
	weeklyGoal int
	policy     StreakPolicy
}

func NewAggregator(cal *calendar.Calendar, weeklyGoal int, policy StreakPolicy) (*Aggregator, error) {
	if weeklyGoal <= 0 || weeklyGoal > 7 {
		return nil, fmt.Errorf("weekly goal must be within 1-7, got %d", weeklyGoal)
	}
	if _, err := ParseStreakPolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = PolicyTodayOrYesterday
	}
	return &Aggregator{
		cal:        cal,
		weeklyGoal: weeklyGoal,
		policy:     policy,
	}, nil
}

func (a *Aggregator) Policy() StreakPolicy {
	return a.policy
}

func (a *Aggregator) Calendar() *calendar.Calendar {
	return a.cal
}

func (a *Aggregator) Compute(store progress.Store, today calendar.DateKey) (AggregateStats, error) {
	weekDates, err := a.cal.WeekDates(today)
	if err != nil {
		return AggregateStats{}, err
	}
	current, err := CurrentStreak(store, today, a.policy)
	if err != nil {
		return AggregateStats{}, err
	}
	longest, err := LongestStreak(store)
	if err != nil {
		return AggregateStats{}, err
	}

	stats := AggregateStats{
		CurrentStreak: current,
		LongestStreak: longest,
		WeeklyGoal:    a.weeklyGoal,
		WeekStart:     weekDates[0],
	}

	for _, d := range weekDates {
		if o, ok := store[d]; ok && o.Completed {
			stats.WeeklyDaysCompleted++
		}
	}
	stats.WeeklyPercentage = (2*stats.WeeklyDaysCompleted*100 + a.weeklyGoal) / (2 * a.weeklyGoal)
	stats.DaysRemaining = max(0, a.weeklyGoal-stats.WeeklyDaysCompleted)

	for _, o := range store {
		if o.Completed {
			stats.TotalWorkouts++
		}
		stats.TotalMinutes += o.AudioMinutes
		if o.Timestamp.After(stats.LastUpdated) {
			stats.LastUpdated = o.Timestamp
		}
	}

	return stats, nil
}

// completedDesc returns completed days not after today, most recent first.
func completedDesc(store progress.Store, today calendar.DateKey) []calendar.DateKey {
	dates := store.Dates()
	completed := make([]calendar.DateKey, 0, len(dates))
	for i := len(dates) - 1; i >= 0; i-- {
		if today != "" && dates[i] > today {
			continue
		}
		if store[dates[i]].Completed {
			completed = append(completed, dates[i])
		}
	}
	return completed
}

// CurrentStreak counts consecutive completed days going back from the most
// recent one, which must be today, or yesterday if the policy allows it.
// Completed days after today are ignored.
func CurrentStreak(store progress.Store, today calendar.DateKey, policy StreakPolicy) (int, error) {
	completed := completedDesc(store, today)
	if len(completed) == 0 {
		return 0, nil
	}

	gap, err := calendar.DaysBetween(today, completed[0])
	if err != nil {
		return 0, err
	}
	if gap > policy.maxAnchorGap() {
		return 0, nil
	}

	streak := 1
	for i := 1; i < len(completed); i++ {
		gap, err := calendar.DaysBetween(completed[i-1], completed[i])
		if err != nil {
			return 0, err
		}
		if gap != 1 {
			break
		}
		streak++
	}
	return streak, nil
}

// LongestStreak is the longest run of consecutive completed days in the whole history.
func LongestStreak(store progress.Store) (int, error) {
	completed := completedDesc(store, "")
	longest, run := 0, 0
	for i := range completed {
		if i == 0 {
			run = 1
		} else {
			gap, err := calendar.DaysBetween(completed[i-1], completed[i])
			if err != nil {
				return 0, err
			}
			if gap == 1 {
				run++
			} else {
				run = 1
			}
		}
		longest = max(longest, run)
	}
	return longest, nil
}
