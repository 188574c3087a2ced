package progress

import (
	"fmt"
	"sort"

	"github.com/2beens/homecoach/internal/calendar"
)

// Store maps a calendar day to that day's outcome. Treat it as a value:
// Upsert returns a new store and leaves the receiver untouched.
type Store map[calendar.DateKey]DayOutcome

func NewStore() Store {
	return make(Store)
}

func (s Store) Get(date calendar.DateKey) (DayOutcome, bool) {
	o, ok := s[date]
	return o, ok
}

// Upsert returns a copy of the store with date -> outcome set. Last write wins.
func (s Store) Upsert(outcome DayOutcome) (Store, error) {
	if err := outcome.validate(); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", outcome.Date, err)
	}
	upd := s.Clone()
	upd[outcome.Date] = outcome
	return upd, nil
}

func (s Store) Clone() Store {
	c := make(Store, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Dates returns all keys sorted ascending.
func (s Store) Dates() []calendar.DateKey {
	dates := make([]calendar.DateKey, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	// canonical keys sort lexicographically in calendar order
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}

// Outcomes returns all outcomes ordered by date ascending.
func (s Store) Outcomes() []DayOutcome {
	dates := s.Dates()
	outcomes := make([]DayOutcome, 0, len(dates))
	for _, d := range dates {
		outcomes = append(outcomes, s[d])
	}
	return outcomes
}

func (s Store) Equal(other Store) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (s Store) validate() error {
	for k, v := range s {
		if err := v.validate(); err != nil {
			return fmt.Errorf("day %s: %w", k, err)
		}
		if k != v.Date {
			return fmt.Errorf("day %s: key does not match outcome date %s", k, v.Date)
		}
	}
	return nil
}
