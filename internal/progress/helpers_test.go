package progress_test

import (
	"testing"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/progress"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 10, 20, 30, 0, 0, time.UTC)

func outcome(t *testing.T, date string, completed bool, minutes, pct int) progress.DayOutcome {
	t.Helper()
	d, err := calendar.ParseDateKey(date)
	require.NoError(t, err)
	return progress.DayOutcome{
		Date:                 d,
		Completed:            completed,
		AudioMinutes:         minutes,
		CompletionPercentage: pct,
		Timestamp:            testNow,
	}
}

// randomStore returns a store of n distinct days with random outcomes.
func randomStore(t *testing.T, faker *gofakeit.Faker, n int) progress.Store {
	t.Helper()
	store := progress.NewStore()
	date := calendar.DateKey("2023-01-01")
	for i := 0; i < n; i++ {
		var err error
		date, err = calendar.AddDays(date, faker.IntRange(1, 3))
		require.NoError(t, err)
		minutes := faker.IntRange(0, 120)
		store[date] = progress.DayOutcome{
			Date:                 date,
			Completed:            minutes >= 36,
			AudioMinutes:         minutes,
			CompletionPercentage: faker.IntRange(0, 267),
			Timestamp:            faker.DateRange(testNow.AddDate(-1, 0, 0), testNow).UTC(),
		}
	}
	return store
}
