package usecase

import (
	"context"
	"testing"
	"time"

	"PriceSim/internal/domain/models"
	drepo "PriceSim/internal/domain/repository"
	"PriceSim/internal/domain/service"
	"PriceSim/pkg/logger"
	"PriceSim/pkg/metrics"

	"github.com/stretchr/testify/require"
)

func newTestManager(cfg ManagerConfig, status drepo.StatusCache, exp ...drepo.Exporter) *RunManager {
	return NewRunManager(cfg, logger.Nop(), metrics.Nop{}, status, exp).WithClock(service.NewVirtualClock(epoch))
}

func uptr(v uint64) *uint64 { return &v }

func TestRunManagerStartAndStatus(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	m := newTestManager(ManagerConfig{}, newMemStatus(), exp)

	s, err := m.Start(context.Background(), StartRequest{Market: market(), Volatility: 0.1, Horizon: 60, Seed: uptr(42)})
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.NoError(t, err)

	st, err := m.Status(context.Background(), s.ID())
	require.NoError(t, err)
	require.Equal(t, models.StateComplete, st.State)
	require.Equal(t, uint64(42), st.Seed)

	obs, err := m.Drain(s.ID())
	require.NoError(t, err)
	require.NotEmpty(t, obs)
	require.Len(t, exp.recs, 1)
}

func TestRunManagerUnknownRun(t *testing.T) {
	m := newTestManager(ManagerConfig{}, newMemStatus())
	_, err := m.Status(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrRunNotFound)
	_, err = m.Pause(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrRunNotFound)
	require.ErrorIs(t, m.Cancel("nope"), models.ErrRunNotFound)
	_, err = m.Drain("nope")
	require.ErrorIs(t, err, models.ErrRunNotFound)
}

func TestRunManagerRejectsBadParams(t *testing.T) {
	m := newTestManager(ManagerConfig{}, nil)
	cases := []struct {
		name  string
		req   StartRequest
		field string
	}{
		{"volatility too high", StartRequest{Market: market(), Volatility: 2.5, Horizon: 60}, "volatility"},
		{"negative volatility", StartRequest{Market: market(), Volatility: -1, Horizon: 60}, "volatility"},
		{"zero horizon", StartRequest{Market: market(), Volatility: 0.1}, "horizon"},
		{"missing market", StartRequest{Volatility: 0.1, Horizon: 60}, "market"},
		{"unknown interval", StartRequest{Market: market(), Volatility: 0.1, Horizon: 60, Intervals: []string{"EVERY_SECOND", "WEEKLY"}}, "interval"},
		{"unknown terminal", StartRequest{Market: market(), Volatility: 0.1, Horizon: 60, TerminalInterval: "WEEKLY"}, "interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Start(context.Background(), tc.req)
			var ce *models.ConfigurationError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.field, ce.Field)
		})
	}
	require.Zero(t, m.Active())
}

func TestRunManagerLenientIntervals(t *testing.T) {
	m := newTestManager(ManagerConfig{SkipUnknownIntervals: true}, nil)
	p, err := m.Params(StartRequest{Market: market(), Volatility: 0.1, Horizon: 60, Intervals: []string{"1_SECOND", "WEEKLY"}})
	require.NoError(t, err)
	require.Equal(t, []models.Interval{models.EverySecond}, p.Intervals)

	_, err = m.Params(StartRequest{Market: market(), Volatility: 0.1, Horizon: 60, Intervals: []string{"WEEKLY"}})
	require.Error(t, err)
}

func TestRunManagerValidationError(t *testing.T) {
	status := newMemStatus()
	m := newTestManager(ManagerConfig{}, status)
	_, err := m.Start(context.Background(), StartRequest{
		Market:     map[string]any{"open": 154.12, "high": 153.95, "low": 154.89, "close": 154.71},
		Volatility: 0.1,
		Horizon:    60,
	})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Zero(t, m.Active())
}

func TestRunManagerEvictsFinishedRuns(t *testing.T) {
	status := newMemStatus()
	m := newTestManager(ManagerConfig{MaxRetained: 2}, status)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := m.Start(context.Background(), StartRequest{Market: market(), Volatility: 0.1, Horizon: 5, Seed: uptr(uint64(i))})
		require.NoError(t, err)
		_, err = s.Wait(context.Background())
		require.NoError(t, err)
		ids = append(ids, s.ID())
	}

	_, err := m.Get(ids[0])
	require.ErrorIs(t, err, models.ErrRunNotFound)
	// evicted runs are still answered from the status cache
	st, err := m.Status(context.Background(), ids[0])
	require.NoError(t, err)
	require.Equal(t, models.StateComplete, st.State)
}

func TestRunManagerShutdownCancelsRuns(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	m := NewRunManager(ManagerConfig{}, logger.Nop(), metrics.Nop{}, nil, []drepo.Exporter{exp})
	s, err := m.Start(context.Background(), StartRequest{Market: market(), Volatility: 0.1, Horizon: 3600, StepDuration: time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, 1, m.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	res, err := s.Wait(context.Background())
	var ie *models.InterruptedError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, models.StateFailed, res.State)
	require.Zero(t, m.Active())
}
