package api

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivationScheduler_RunNow(t *testing.T) {
	s := newTestServer(t)
	logger, hook := test.NewNullLogger()

	// GIVEN: a boost due Tuesday evening and a tenant that does not exist
	id := s.claim("user-1", "boost-t3", map[string]any{"scheduledActivationAt": "2025-06-03T15:00:00Z"}).ID
	s.clock.Set(time.Date(2025, 6, 3, 23, 0, 0, 0, time.UTC))

	sched := NewActivationScheduler(s.handler.Service, []string{tenant, "globex"}, logger)

	// WHEN: the sweeps run
	reports := sched.RunNow(context.Background())

	// THEN: every tenant is swept and the boost is active
	require.Len(t, reports, 2)
	assert.Equal(t, tenant, reports[0].ClientID)
	require.Len(t, reports[0].BoostsActivated, 1)
	assert.Equal(t, id, reports[0].BoostsActivated[0].RedemptionID)
	assert.Empty(t, reports[1].BoostsActivated)

	runs, err := s.handler.Service.ListActivationRuns(context.Background(), tenant, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "cron", runs[0].Trigger)

	var completed int
	for _, e := range hook.AllEntries() {
		if e.Message == "[Scheduler] Completed" {
			completed++
		}
	}
	assert.Equal(t, 2, completed)

	// A second sweep is a no-op.
	reports = sched.RunNow(context.Background())
	assert.Empty(t, reports[0].BoostsActivated)
}

func TestActivationScheduler_Disabled(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sched := NewActivationScheduler(nil, []string{tenant}, logger)
	sched.Enabled = false

	require.NoError(t, sched.Start())

	assert.True(t, sched.NextRun().IsZero())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "[Scheduler] Disabled, not starting", hook.LastEntry().Message)
	sched.Stop()
}

func TestActivationScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	logger, hook := test.NewNullLogger()
	sched := NewActivationScheduler(s.handler.Service, []string{tenant}, logger)
	sched.Schedule = "@every 1h"

	require.NoError(t, sched.Start())
	next := sched.NextRun()
	assert.False(t, next.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)

	// Starting twice keeps the first cron.
	require.NoError(t, sched.Start())
	assert.Equal(t, next, sched.NextRun())

	sched.Stop()
	assert.True(t, sched.NextRun().IsZero())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "[Scheduler] Stopped", hook.LastEntry().Message)
}

func TestActivationScheduler_BadSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sched := NewActivationScheduler(nil, nil, logger)
	sched.Schedule = "every tuesday"

	err := sched.Start()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid activation schedule")
	assert.True(t, sched.NextRun().IsZero())
}
