package progress

import (
	"time"

	"github.com/2beens/homecoach/internal/calendar"
)

// DayOutcome is the result of a single day's workout, keyed by its date.
// CompletionPercentage is not capped at 100.
type DayOutcome struct {
	Date                 calendar.DateKey `json:"date"`
	Completed            bool             `json:"completed"`
	AudioMinutes         int              `json:"audioMinutes"`
	CompletionPercentage int              `json:"completionPercentage"`
	Timestamp            time.Time        `json:"timestamp"`
}

func (o DayOutcome) Equal(other DayOutcome) bool {
	return o.Date == other.Date &&
		o.Completed == other.Completed &&
		o.AudioMinutes == other.AudioMinutes &&
		o.CompletionPercentage == other.CompletionPercentage &&
		o.Timestamp.Equal(other.Timestamp)
}

func (o DayOutcome) validate() error {
	if !o.Date.Valid() {
		return calendar.ErrInvalidDateKey
	}
	if o.AudioMinutes < 0 || o.CompletionPercentage < 0 {
		return ErrNegativeValues
	}
	return nil
}
