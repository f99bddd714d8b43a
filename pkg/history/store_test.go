package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disaster-manager-go/pkg/errors"
)

func openTemp(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStore_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	s, now := openTemp(t)

	job, err := s.StartJob(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, job.Status)
	assert.Len(t, job.GCode, 2)

	*now = now.Add(90 * time.Minute)
	require.NoError(t, s.RecordJam(ctx, job.ID, Jam{Tool: 0, GCode: 50, Sensor: 38, Drift: 12, Threshold: 10}))
	require.NoError(t, s.FinishJob(ctx, job.ID, StatusCompleted, []float64{120.5, 3}, []float64{118, 3}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, []float64{120.5, 3}, got.GCode)
	assert.Equal(t, []float64{118, 3}, got.Sensor)
	assert.Equal(t, 1, got.Jams)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, 90*time.Minute, got.Duration(*now))
	assert.InDelta(t, 123.5, got.FilamentUsed(), 1e-9)

	jams, err := s.ListJams(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, jams, 1)
	assert.NotEmpty(t, jams[0].EpisodeID)
	assert.Equal(t, 12.0, jams[0].Drift)
}

func TestStore_ListJobsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s, now := openTemp(t)

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := s.StartJob(ctx, 1)
		require.NoError(t, err)
		ids = append(ids, job.ID)
		*now = now.Add(time.Minute)
	}

	jobs, err := s.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[0], jobs[2].ID)

	jobs, err = s.ListJobs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestStore_Totals(t *testing.T) {
	ctx := context.Background()
	s, now := openTemp(t)

	var cases = []struct {
		description string
		status      string
		gcode       float64
		length      time.Duration
	}{
		{description: "completed", status: StatusCompleted, gcode: 100, length: time.Hour},
		{description: "cancelled", status: StatusCancelled, gcode: 20, length: 10 * time.Minute},
		{description: "error", status: StatusError, gcode: 5, length: time.Minute},
	}
	for _, testCase := range cases {
		job, err := s.StartJob(ctx, 1)
		require.NoError(t, err, testCase.description)
		*now = now.Add(testCase.length)
		require.NoError(t, s.FinishJob(ctx, job.ID, testCase.status, []float64{testCase.gcode}, []float64{testCase.gcode - 1}), testCase.description)
	}
	// still running, not counted
	_, err := s.StartJob(ctx, 1)
	require.NoError(t, err)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.TotalJobs)
	assert.InDelta(t, 125, totals.TotalFilament, 1e-9)
	assert.InDelta(t, 122, totals.TotalSensor, 1e-9)
	assert.InDelta(t, time.Hour.Seconds(), totals.LongestJob, 1e-9)
	assert.Equal(t, 1, totals.CompletedJobs)
	assert.Equal(t, 1, totals.CancelledJobs)
	assert.Equal(t, 1, totals.JobsWithErrors)
}

func TestStore_FinishUnknownJob(t *testing.T) {
	s, _ := openTemp(t)
	err := s.FinishJob(context.Background(), "missing", StatusCompleted, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrHistory))
}
