package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PriceSim/internal/domain/models"
	"PriceSim/internal/domain/service"

	"github.com/stretchr/testify/require"
)

type fakeExporter struct {
	mu   sync.Mutex
	name string
	recs []*models.RunRecord
	err  error
}

func (f *fakeExporter) Name() string { return f.name }

func (f *fakeExporter) Export(_ context.Context, rec *models.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}

type memStatus struct {
	mu   sync.Mutex
	last map[string]models.RunStatus
}

func newMemStatus() *memStatus { return &memStatus{last: map[string]models.RunStatus{}} }

func (m *memStatus) PutStatus(_ context.Context, st models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[st.RunID] = st
	return nil
}

func (m *memStatus) GetStatus(_ context.Context, id string) (models.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.last[id]
	if !ok {
		return models.RunStatus{}, models.ErrRunNotFound
	}
	return st, nil
}

func TestSessionRunsAndExports(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	failing := &fakeExporter{name: "broken", err: errors.New("down")}
	status := newMemStatus()
	s, err := NewSession("run-1", models.RunParams{Volatility: 0.1, Horizon: 30, Seed: 7},
		WithSessionClock(service.NewVirtualClock(epoch)),
		WithExporters(failing, exp),
		WithStatusCache(status),
	)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), market()))

	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.StateComplete, res.State)

	drained := s.Drain()
	require.Equal(t, res.Observations, drained)
	require.Empty(t, s.Drain())

	require.Len(t, exp.recs, 1)
	require.Equal(t, "run-1", exp.recs[0].RunID)
	require.Equal(t, uint64(7), exp.recs[0].Params.Seed)
	require.Len(t, failing.recs, 1)

	st, err := status.GetStatus(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, models.StateComplete, st.State)
	require.Equal(t, 30, st.Step)
	require.Equal(t, 154.71, st.Price)
	require.NotNil(t, st.Summary)
	require.Equal(t, 154.71, st.Summary.Close)
	require.Equal(t, len(res.Observations), st.Summary.Count)
}

func TestSessionValidationErrorIsSynchronous(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	s, err := NewSession("run-2", models.RunParams{Volatility: 0.1, Horizon: 30},
		WithSessionClock(service.NewVirtualClock(epoch)), WithExporters(exp))
	require.NoError(t, err)

	err = s.Start(context.Background(), map[string]any{"open": 1.0, "secret": "x"})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	require.NotContains(t, err.Error(), "secret")

	res, werr := s.Wait(context.Background())
	require.Equal(t, err, werr)
	require.Equal(t, models.StateFailed, res.State)
	require.Empty(t, s.Drain())
	require.Empty(t, exp.recs)
	require.ErrorIs(t, s.Start(context.Background(), market()), ErrAlreadyStarted)
}

func TestSessionCancelExportsPartialLog(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	s, err := NewSession("run-3", models.RunParams{Volatility: 0.1, Horizon: 600, Seed: 1, StepDuration: 5 * time.Millisecond},
		WithExporters(exp))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), market()))

	require.Eventually(t, func() bool { return s.Status().Step >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Cancel()

	res, err := s.Wait(context.Background())
	var ie *models.InterruptedError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, models.StateFailed, res.State)
	require.NotEmpty(t, res.Observations)
	require.Less(t, len(res.Observations), 600)
	require.Len(t, exp.recs, 1)
	require.Equal(t, res.Observations, exp.recs[0].Result.Observations)
}

func TestSessionPauseResume(t *testing.T) {
	s, err := NewSession("run-4", models.RunParams{Volatility: 0.1, Horizon: 200, Seed: 1, StepDuration: 2 * time.Millisecond})
	require.NoError(t, err)
	require.True(t, s.Pause(context.Background()))
	require.False(t, s.Pause(context.Background()))
	require.NoError(t, s.Start(context.Background(), market()))

	time.Sleep(30 * time.Millisecond)
	st := s.Status()
	require.True(t, st.Paused)
	require.Equal(t, 0, st.Step)
	require.Equal(t, models.StateRunning, st.State)

	require.True(t, s.Resume(context.Background()))
	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.StateComplete, res.State)
}

func TestSessionSubscribe(t *testing.T) {
	s, err := NewSession("run-5", models.RunParams{Volatility: 0.1, Horizon: 50, Seed: 1, StepDuration: time.Millisecond})
	require.NoError(t, err)
	mb, detach := s.Subscribe()
	defer detach()
	require.NoError(t, s.Start(context.Background(), market()))

	var got []models.Observation
	for done := false; !done; {
		select {
		case <-mb.Ready():
			got = append(got, mb.Drain()...)
		case <-mb.Done():
			got = append(got, mb.Drain()...)
			done = true
		case <-time.After(5 * time.Second):
			t.Fatalf("stream did not finish")
		}
	}
	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, res.Observations, got)

	late, _ := s.Subscribe()
	require.True(t, late.Closed())
	require.Equal(t, res.Observations, late.Drain())
}
