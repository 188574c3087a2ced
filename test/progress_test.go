package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/db"
	"github.com/2beens/homecoach/internal/middleware"
	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/session"
	"github.com/2beens/homecoach/internal/stats"
	testingpkg "github.com/2beens/homecoach/pkg/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) do(ctx context.Context, method, path string, body []byte) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, bytes.NewReader(body))
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "HomeCoach/1.0 (integration)")
	req.Header.Set(middleware.AuthTokenHeader, testToken)

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)
	return resp.StatusCode, respBytes
}

func (s *IntegrationTestSuite) TestWorkoutPersistedToPostgres() {
	ctx := context.Background()
	status, _ := s.do(ctx, http.MethodDelete, "/progress", nil)
	require.Equal(s.T(), http.StatusOK, status)

	status, body := s.do(ctx, http.MethodPost, "/sessions", nil)
	require.Equal(s.T(), http.StatusCreated, status)
	var created session.Progress
	require.NoError(s.T(), json.Unmarshal(body, &created))

	base := "/sessions/" + created.SessionID
	// 30 minutes of 45 is short of the 36 minute threshold
	for i := 0; i < 1800; i++ {
		status, _ = s.do(ctx, http.MethodPost, base+"/tick", nil)
		require.Equal(s.T(), http.StatusOK, status)
	}
	status, _ = s.do(ctx, http.MethodPost, base+"/pause", nil)
	require.Equal(s.T(), http.StatusOK, status)
	status, _ = s.do(ctx, http.MethodPost, base+"/tick", nil)
	require.Equal(s.T(), http.StatusOK, status)

	status, body = s.do(ctx, http.MethodPost, base+"/end", nil)
	require.Equal(s.T(), http.StatusOK, status)
	var ended session.EndResponse
	require.NoError(s.T(), json.Unmarshal(body, &ended))
	assert.False(s.T(), ended.Outcome.Completed)
	assert.Equal(s.T(), 30, ended.Outcome.AudioMinutes)
	assert.Equal(s.T(), 67, ended.Outcome.CompletionPercentage)
	assert.True(s.T(), ended.Persisted)

	status, _ = s.do(ctx, http.MethodPost, base+"/tick", nil)
	assert.Equal(s.T(), http.StatusNotFound, status)

	var (
		completed    bool
		audioMinutes int
		percentage   int
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT completed, audio_minutes, completion_percentage
		FROM homecoach.day_outcome
		WHERE profile = $1 AND day = $2
	`, testProfile, string(ended.Outcome.Date))
	require.NoError(s.T(), row.Scan(&completed, &audioMinutes, &percentage))
	assert.False(s.T(), completed)
	assert.Equal(s.T(), 30, audioMinutes)
	assert.Equal(s.T(), 67, percentage)
}

func (s *IntegrationTestSuite) TestImportSurvivesReload() {
	ctx := context.Background()
	// postgres keeps microseconds
	now := time.Now().UTC().Truncate(time.Second)
	today := calendar.New(time.UTC, time.Sunday).Today(calendar.FixedClock{T: now})
	yesterday, err := calendar.AddDays(today, -1)
	require.NoError(s.T(), err)

	store := progress.NewStore()
	for _, o := range []progress.DayOutcome{
		{Date: yesterday, Completed: true, AudioMinutes: 45, CompletionPercentage: 100, Timestamp: now.Add(-24 * time.Hour)},
		{Date: today, Completed: true, AudioMinutes: 38, CompletionPercentage: 84, Timestamp: now},
	} {
		store, err = store.Upsert(o)
		require.NoError(s.T(), err)
	}
	snapshot, err := progress.Export(store, now)
	require.NoError(s.T(), err)

	status, body := s.do(ctx, http.MethodPost, "/progress/import?mode=replace", snapshot)
	require.Equal(s.T(), http.StatusOK, status, string(body))

	status, body = s.do(ctx, http.MethodGet, "/progress/stats", nil)
	require.Equal(s.T(), http.StatusOK, status)
	var aggregated stats.AggregateStats
	require.NoError(s.T(), json.Unmarshal(body, &aggregated))
	assert.Equal(s.T(), 2, aggregated.CurrentStreak)
	assert.Equal(s.T(), 83, aggregated.TotalMinutes)

	// a fresh backend on the same database sees the same days, as after a restart
	pool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost: "localhost",
		DBPort: s.pgPort,
		DBName: "homecoach",
		DBUser: "postgres",
	})
	require.NoError(s.T(), err)
	defer pool.Close()

	reloaded, err := progress.NewPostgresBackend(pool, testProfile).Load(ctx)
	require.NoError(s.T(), err)
	assert.True(s.T(), store.Equal(reloaded), fmt.Sprintf("want %v, got %v", store, reloaded))
}

func (s *IntegrationTestSuite) TestRedisBackend() {
	ctx, rdb := testingpkg.GetRedisClientAndCtx(s.T(), s.redisAddr)
	backend := progress.NewRedisBackend(rdb, "redis-profile", calendar.SystemClock{})

	loaded, err := backend.Load(ctx)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), loaded)

	store, err := progress.NewStore().Upsert(progress.DayOutcome{
		Date:                 "2024-03-10",
		Completed:            true,
		AudioMinutes:         46,
		CompletionPercentage: 102,
		Timestamp:            time.Date(2024, time.March, 10, 19, 0, 0, 0, time.UTC),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), backend.Save(ctx, store))

	loaded, err = backend.Load(ctx)
	require.NoError(s.T(), err)
	assert.True(s.T(), store.Equal(loaded))
}

func (s *IntegrationTestSuite) TestUnauthorized() {
	req, err := http.NewRequest(http.MethodGet, serverEndpoint+"/progress/stats", nil)
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "HomeCoach/1.0 (integration)")
	req.Header.Set(middleware.AuthTokenHeader, "wrong")

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
}
