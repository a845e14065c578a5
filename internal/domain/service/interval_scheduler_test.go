package service

import (
	"testing"

	"PriceSim/internal/domain/models"

	"github.com/stretchr/testify/require"
)

func firingSteps(t *testing.T, iv models.Interval, horizon int) []int {
	t.Helper()
	var steps []int
	for step := 0; step <= horizon; step++ {
		ok, err := Fires(iv, step, horizon)
		require.NoError(t, err)
		if ok {
			steps = append(steps, step)
		}
	}
	return steps
}

func TestFiresHorizon60(t *testing.T) {
	require.Equal(t, []int{0, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60}, firingSteps(t, models.Every5Seconds, 60))
	require.Equal(t, []int{59}, firingSteps(t, models.EndOfMinute, 60))
	require.Equal(t, []int{0}, firingSteps(t, models.Every5Minutes, 60))
	require.Equal(t, []int{0}, firingSteps(t, models.Every1Hour, 60))
	require.Len(t, firingSteps(t, models.EverySecond, 60), 61)
}

func TestFiresLongRun(t *testing.T) {
	require.Equal(t, []int{0, 300, 600}, firingSteps(t, models.Every5Minutes, 600))
	require.Equal(t, []int{0, 3600}, firingSteps(t, models.Every1Hour, 3600))
}

func TestFiresUnknownInterval(t *testing.T) {
	_, err := Fires(models.Interval("EVERY_FORTNIGHT"), 0, 60)
	var ce *models.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "EVERY_FORTNIGHT", ce.Value)
}

func TestNewSchedulerOrdersAndDedups(t *testing.T) {
	s, err := NewScheduler([]models.Interval{models.Every1Hour, models.EverySecond, models.Every1Hour, models.Every5Seconds})
	require.NoError(t, err)
	require.Equal(t, []models.Interval{models.EverySecond, models.Every5Seconds, models.Every1Hour}, s.Intervals())
	require.Equal(t, []models.Interval{models.EverySecond, models.Every5Seconds, models.Every1Hour}, s.Due(0, 60))
	require.Equal(t, []models.Interval{models.EverySecond}, s.Due(7, 60))

	all, err := NewScheduler(nil)
	require.NoError(t, err)
	require.Equal(t, models.AllIntervals(), all.Intervals())

	_, err = NewScheduler([]models.Interval{"BOGUS"})
	require.Error(t, err)
}

func TestResolveIntervals(t *testing.T) {
	got, err := ResolveIntervals([]string{"1_second", "5_SECOND", "1_MINUTE"}, false, nil)
	require.NoError(t, err)
	require.Equal(t, []models.Interval{models.EverySecond, models.Every5Seconds, models.EndOfMinute}, got)

	_, err = ResolveIntervals([]string{"EVERY_SECOND", "NOPE"}, false, nil)
	var ce *models.ConfigurationError
	require.ErrorAs(t, err, &ce)

	var skipped []string
	got, err = ResolveIntervals([]string{"EVERY_SECOND", "NOPE"}, true, func(n string) { skipped = append(skipped, n) })
	require.NoError(t, err)
	require.Equal(t, []models.Interval{models.EverySecond}, got)
	require.Equal(t, []string{"NOPE"}, skipped)
}
