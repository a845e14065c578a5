package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"PriceSim/internal/domain/models"
	"PriceSim/internal/domain/service"
	"PriceSim/internal/repository"
	"PriceSim/internal/usecase"
	"PriceSim/pkg/config"
	applogger "PriceSim/pkg/logger"
	"PriceSim/pkg/metrics"

	drepo "PriceSim/internal/domain/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// logBuffer is written by the engine goroutine and read by the test.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newOnceApp(t *testing.T, body string, mutate func(*config.Config)) (*App, *logBuffer, string) {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(data, []byte(body), 0o644))

	cfg := config.Default()
	cfg.Simulation.DataFile = data
	cfg.Simulation.DurationSeconds = 60
	cfg.Simulation.Volatility = 0.1
	cfg.Output.Dir = dir
	if mutate != nil {
		mutate(cfg)
	}

	buf := &logBuffer{}
	l := applogger.NewWithWriter(buf, zerolog.InfoLevel)
	exp := repository.NewJSONFileExporter(dir, repository.WithResultsFile(cfg.Output.File), repository.WithDataFile(data))
	runs := usecase.NewRunManager(usecase.ManagerConfig{}, l, metrics.Nop{}, nil, []drepo.Exporter{exp}).
		WithClock(service.NewVirtualClock(time.Date(2024, 10, 10, 9, 30, 0, 0, time.UTC)))
	return New(cfg, l, runs, repository.NewMarketFileLoader(cfg.MaxFileBytes()), nil), buf, dir
}

func TestRunOnceExportsAndLogs(t *testing.T) {
	app, buf, dir := newOnceApp(t, `{"open":154.12,"high":154.89,"low":153.95,"close":154.71}`, nil)

	require.NoError(t, app.Run(context.Background()))

	_, err := os.Stat(filepath.Join(dir, "simulation_results.json"))
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, "[2024-10-10 09:30:00] [EVERY_SECOND] Price: $154.12")
	require.Contains(t, out, "[2024-10-10 09:31:00] [END_OF_MINUTE] Price: $154.71")
	require.Contains(t, out, "simulation summary")
	require.Equal(t, 1, strings.Count(out, "simulation summary"))
}

func TestRunOnceValidationError(t *testing.T) {
	app, _, dir := newOnceApp(t, `{"open":154.12,"high":153.95,"low":154.89,"close":154.71}`, nil)
	_, err := app.RunOnce(context.Background())
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	_, statErr := os.Stat(filepath.Join(dir, "simulation_results.json"))
	require.True(t, os.IsNotExist(statErr))
}

func TestRunOnceInterrupted(t *testing.T) {
	app, buf, _ := newOnceApp(t, `{"open":154.12,"high":154.89,"low":153.95,"close":154.71}`, func(c *config.Config) {
		c.Simulation.DurationSeconds = 3600
	})
	// a real clock so the run is still going when ctx ends
	app.runs.WithClock(service.SystemClock{})
	app.cfg.Simulation.StepDuration = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := app.RunOnce(ctx)
	var ie *models.InterruptedError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, models.StateFailed, res.State)
	require.NotEmpty(t, res.Observations)
	require.Contains(t, buf.String(), "simulation interrupted")
}
