package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florawren/clawboard/internal/gateway"
	"github.com/florawren/clawboard/internal/testutil"
)

var testStart = time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) (*Aggregator, *testutil.MockGateway, *testutil.MockClock) {
	t.Helper()
	gw := testutil.NewMockGateway()
	clock := testutil.NewMockClock(testStart)
	agg := New(DefaultConfig(), gw, clock, testutil.NewTestLogger().Logger())
	return agg, gw, clock
}

func seedHealthyGateway(gw *testutil.MockGateway) {
	gw.SetResult("sessions.list", gateway.SessionsResult{
		Sessions: []gateway.Session{
			{SessionID: "s1", AgentID: "alpha", ContextTokens: 100, UpdatedAt: testStart.Add(-1 * time.Minute)},
		},
	})
	gw.SetResult("cron.list", gateway.CronListResult{
		Jobs: []gateway.CronJob{
			{ID: "c1", Name: "Digest", Enabled: true, Schedule: gateway.CronSchedule{Expr: "0 9 * * *"}},
		},
	})
	gw.SetResult("cron.runs", gateway.CronRunsResult{
		Runs: []gateway.CronRun{
			{ID: "r1", CronID: "c1", Status: "completed", StartedAt: testStart.Add(-1 * time.Hour)},
		},
	})
}

func TestDashboard_ComposesAllSources(t *testing.T) {
	agg, gw, _ := newTestAggregator(t)
	seedHealthyGateway(gw)

	d, err := agg.Dashboard(context.Background())
	require.NoError(t, err)

	assert.Len(t, d.Tasks, 1)
	assert.Len(t, d.Workers, 1)
	assert.Len(t, d.Routines, 1)
	assert.Len(t, d.Activity, 1)
	assert.Equal(t, testStart, d.Timestamp)

	// All three methods were queried once
	assert.Equal(t, 1, gw.CountCalls("sessions.list"))
	assert.Equal(t, 1, gw.CountCalls("cron.list"))
	assert.Equal(t, 1, gw.CountCalls("cron.runs"))
}

func TestDashboard_SessionsFailureIsFatal(t *testing.T) {
	agg, gw, _ := newTestAggregator(t)
	seedHealthyGateway(gw)
	gw.SetError("sessions.list", errors.New("connection refused"))

	_, err := agg.Dashboard(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionsUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDashboard_CronFailuresDegrade(t *testing.T) {
	agg, gw, _ := newTestAggregator(t)
	seedHealthyGateway(gw)
	gw.SetError("cron.list", errors.New("method not found"))
	gw.SetError("cron.runs", errors.New("method not found"))

	d, err := agg.Dashboard(context.Background())
	require.NoError(t, err)

	// Session-derived data survives; cron-derived data is simply empty
	assert.Len(t, d.Tasks, 1)
	assert.Empty(t, d.Routines)
	assert.Empty(t, d.Activity)
}

func TestDashboard_CachesWithinTTL(t *testing.T) {
	agg, gw, clock := newTestAggregator(t)
	seedHealthyGateway(gw)

	first, err := agg.Dashboard(context.Background())
	require.NoError(t, err)

	// A second call inside the TTL is served from cache
	clock.Advance(3 * time.Second)
	second, err := agg.Dashboard(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, gw.CountCalls("sessions.list"))

	// Past the TTL the upstream is queried again
	clock.Advance(3 * time.Second)
	third, err := agg.Dashboard(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, third)
	assert.Equal(t, 2, gw.CountCalls("sessions.list"))
}

func TestDashboard_FailedPassDoesNotPoisonCache(t *testing.T) {
	agg, gw, _ := newTestAggregator(t)
	seedHealthyGateway(gw)
	gw.SetError("sessions.list", errors.New("down"))

	_, err := agg.Dashboard(context.Background())
	require.Error(t, err)

	// Recovery on the next pass, without waiting out any TTL
	gw.SetError("sessions.list", nil)
	d, err := agg.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Len(t, d.Tasks, 1)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	agg, gw, _ := newTestAggregator(t)
	seedHealthyGateway(gw)

	_, err := agg.Dashboard(context.Background())
	require.NoError(t, err)

	agg.Invalidate()

	_, err = agg.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gw.CountCalls("sessions.list"))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		desc    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero cache ttl", func(c *Config) { c.CacheTTL = 0 }, true},
		{"zero session limit", func(c *Config) { c.SessionLimit = 0 }, true},
		{"zero run limit", func(c *Config) { c.RunLimit = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
