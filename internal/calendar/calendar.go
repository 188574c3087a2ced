package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateKeyLayout = "2006-01-02"

var ErrInvalidDateKey = errors.New("invalid date key")

// DateKey is a canonical calendar day, always formatted as YYYY-MM-DD.
type DateKey string

func (d DateKey) String() string {
	return string(d)
}

// ParseDateKey accepts only the canonical layout, so the same day can never
// show up under two different keys.
func ParseDateKey(s string) (DateKey, error) {
	t, err := time.Parse(dateKeyLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDateKey, s)
	}
	if t.Format(dateKeyLayout) != s {
		return "", fmt.Errorf("%w: %q is not canonical", ErrInvalidDateKey, s)
	}
	return DateKey(s), nil
}

func (d DateKey) Valid() bool {
	_, err := ParseDateKey(string(d))
	return err == nil
}

// dayNumber returns the number of days since the unix epoch for the key.
// Computed on UTC midnights, which have no DST transitions.
func (d DateKey) dayNumber() (int64, error) {
	t, err := time.ParseInLocation(dateKeyLayout, string(d), time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDateKey, string(d))
	}
	return t.Unix() / 86400, nil
}

func (d DateKey) civil() (time.Time, error) {
	t, err := time.ParseInLocation(dateKeyLayout, string(d), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, string(d))
	}
	return t, nil
}

// DaysBetween returns a - b in calendar days.
func DaysBetween(a, b DateKey) (int, error) {
	an, err := a.dayNumber()
	if err != nil {
		return 0, err
	}
	bn, err := b.dayNumber()
	if err != nil {
		return 0, err
	}
	return int(an - bn), nil
}

// AddDays shifts the key by n calendar days (n may be negative).
func AddDays(d DateKey, n int) (DateKey, error) {
	t, err := d.civil()
	if err != nil {
		return "", err
	}
	return DateKey(t.AddDate(0, 0, n).Format(dateKeyLayout)), nil
}

// ParseWeekday maps names like "sunday" or "mon" to a time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if s == name || (len(s) == 3 && strings.HasPrefix(name, s)) {
			return wd, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday: %q", s)
}

// Calendar binds date math to a time zone and a first day of the week.
type Calendar struct {
	loc      *time.Location
	firstDay time.Weekday
}

func New(loc *time.Location, firstDayOfWeek time.Weekday) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{
		loc:      loc,
		firstDay: firstDayOfWeek,
	}
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

func (c *Calendar) FirstDayOfWeek() time.Weekday {
	return c.firstDay
}

// DateKey canonicalizes an instant to its calendar day in the calendar's zone.
func (c *Calendar) DateKey(t time.Time) DateKey {
	return DateKey(t.In(c.loc).Format(dateKeyLayout))
}

func (c *Calendar) Today(clock Clock) DateKey {
	return c.DateKey(clock.Now())
}

// StartOfWeek returns the first day of the week containing d.
func (c *Calendar) StartOfWeek(d DateKey) (DateKey, error) {
	t, err := d.civil()
	if err != nil {
		return "", err
	}
	offset := (int(t.Weekday()) - int(c.firstDay) + 7) % 7
	return DateKey(t.AddDate(0, 0, -offset).Format(dateKeyLayout)), nil
}

// WeekDates returns the 7 ordered days of the week containing d.
func (c *Calendar) WeekDates(d DateKey) ([]DateKey, error) {
	start, err := c.StartOfWeek(d)
	if err != nil {
		return nil, err
	}
	startT, _ := start.civil()

	dates := make([]DateKey, 7)
	for i := range dates {
		dates[i] = DateKey(startT.AddDate(0, 0, i).Format(dateKeyLayout))
	}
	return dates, nil
}
