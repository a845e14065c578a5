package server

import (
	"context"
	"errors"
	"fmt"

	"PriceSim/internal/domain/models"
	"PriceSim/internal/repository"
	"PriceSim/internal/usecase"
	"PriceSim/pkg/config"
	xhttp "PriceSim/pkg/http"
	applogger "PriceSim/pkg/logger"
)

// App encapsulates the application lifecycle for both run modes.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	runs       *usecase.RunManager
	loader     *repository.MarketFileLoader
	httpServer *xhttp.Server
}

func New(cfg *config.Config, l *applogger.Logger, runs *usecase.RunManager, loader *repository.MarketFileLoader, srv *xhttp.Server) *App {
	return &App{cfg: cfg, l: l, runs: runs, loader: loader, httpServer: srv}
}

// Run dispatches on the configured mode and blocks until done or ctx ends.
func (a *App) Run(ctx context.Context) error {
	switch a.cfg.Mode {
	case "serve":
		return a.Serve(ctx)
	default:
		_, err := a.RunOnce(ctx)
		return err
	}
}

// RunOnce simulates the configured data file, logging every observation as
// it is emitted, and returns once the results are exported.
func (a *App) RunOnce(ctx context.Context) (*models.RunResult, error) {
	sim := a.cfg.Simulation
	market, err := a.loader.Load(sim.DataFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sim.DataFile, err)
	}

	s, err := a.runs.Start(ctx, usecase.StartRequest{
		Market:           market,
		Volatility:       sim.Volatility,
		Horizon:          sim.DurationSeconds,
		Intervals:        sim.Intervals,
		Seed:             sim.Seed,
		StepDuration:     sim.StepDuration,
		TerminalInterval: sim.TerminalInterval,
	})
	if err != nil {
		return nil, err
	}
	a.l.Info("simulation started",
		applogger.String("run_id", s.ID()),
		applogger.Float64("volatility", sim.Volatility),
		applogger.Int("duration_seconds", sim.DurationSeconds),
		applogger.Uint64("seed", s.Params().Seed),
	)

	mb, detach := s.Subscribe()
	defer detach()
	for printing := true; printing; {
		select {
		case <-mb.Ready():
			a.print(mb.Drain())
		case <-mb.Done():
			a.print(mb.Drain())
			printing = false
		case <-ctx.Done():
			a.l.Warn("interrupt received, stopping simulation")
			s.Cancel()
			ctx = context.WithoutCancel(ctx)
		}
	}

	res, runErr := s.Wait(ctx)
	if res != nil {
		a.printSummary(res)
	}
	if runErr != nil {
		var ie *models.InterruptedError
		if errors.As(runErr, &ie) {
			a.l.Warn("simulation interrupted", applogger.Int("step", ie.Step))
		}
		return res, runErr
	}
	return res, nil
}

func (a *App) print(obs []models.Observation) {
	for _, o := range obs {
		a.l.Info(fmt.Sprintf("[%s] [%s] Price: $%.2f", o.Timestamp.Format("2006-01-02 15:04:05"), o.Interval, o.Price),
			applogger.Int("step", o.Step),
		)
	}
}

func (a *App) printSummary(res *models.RunResult) {
	sum := models.Summarize(res.Observations)
	a.l.Info("simulation summary",
		applogger.String("state", res.State.String()),
		applogger.Int("records", sum.Count),
		applogger.Float64("open", sum.Open),
		applogger.Float64("high", sum.High),
		applogger.Float64("low", sum.Low),
		applogger.Float64("close", sum.Close),
		applogger.Float64("mean", sum.Mean),
		applogger.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
}

// Serve runs the HTTP control surface until ctx ends, then cancels every run
// and waits for their exports.
func (a *App) Serve(ctx context.Context) error {
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case serveErr = <-a.httpServer.Errors():
	}
	return errors.Join(serveErr, a.shutdown(context.WithoutCancel(ctx)))
}

func (a *App) shutdown(ctx context.Context) error {
	a.l.Info("shutting down")
	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	runsCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.runs.Shutdown(runsCtx); err != nil {
		a.l.Warn("runs did not finish exporting", applogger.Error(err))
		errs = append(errs, err)
	}
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
