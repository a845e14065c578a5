package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"PriceSim/internal/domain/models"
	drepo "PriceSim/internal/domain/repository"
	"PriceSim/internal/domain/service"
	"PriceSim/pkg/logger"
	"PriceSim/pkg/metrics"
)

// ErrNotLoaded is returned by Run when no market data was accepted.
var ErrNotLoaded = errors.New("market data not loaded")

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used for pacing and timestamps.
func WithClock(c service.Clock) EngineOption { return func(e *Engine) { e.clock = c } }

// WithSink receives every observation as it is emitted.
func WithSink(s drepo.ObservationSink) EngineOption { return func(e *Engine) { e.sink = s } }

// WithLogger sets the logger for state transitions.
func WithLogger(l *logger.Logger) EngineOption { return func(e *Engine) { e.log = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m drepo.Metrics) EngineOption { return func(e *Engine) { e.metrics = m } }

// WithGate lets the caller pause the run between steps.
func WithGate(g *Gate) EngineOption { return func(e *Engine) { e.gate = g } }

// WithNoise overrides the seeded source derived from RunParams.Seed.
func WithNoise(n service.NoiseSource) EngineOption { return func(e *Engine) { e.noise = n } }

// Engine runs one simulation from validated market data to the forced close.
// It is single-use; State, Step and Price may be read from other goroutines.
type Engine struct {
	params  models.RunParams
	clock   service.Clock
	sink    drepo.ObservationSink
	log     *logger.Logger
	metrics drepo.Metrics
	gate    *Gate
	noise   service.NoiseSource

	sched *service.Scheduler
	gen   *service.PriceGenerator
	pacer *service.Pacer

	snap  models.MarketSnapshot
	sim   models.SimulationState
	obs   []models.Observation
	start time.Time

	state     atomic.Int32
	step      atomic.Int64
	priceBits atomic.Uint64
}

// NewEngine checks params and wires collaborators. Parameter problems are
// ConfigurationErrors.
func NewEngine(params models.RunParams, opts ...EngineOption) (*Engine, error) {
	if params.Horizon <= 0 {
		return nil, &models.ConfigurationError{Field: "horizon", Value: strconv.Itoa(params.Horizon), Reason: "must be a positive number of steps"}
	}
	if math.IsNaN(params.Volatility) || math.IsInf(params.Volatility, 0) || params.Volatility < 0 {
		return nil, &models.ConfigurationError{Field: "volatility", Value: fmt.Sprint(params.Volatility), Reason: "must be a finite value >= 0"}
	}
	if params.StepDuration < 0 {
		return nil, &models.ConfigurationError{Field: "step_duration", Value: params.StepDuration.String(), Reason: "must not be negative"}
	}
	if params.StepDuration == 0 {
		params.StepDuration = service.DefaultStepDuration
	}
	if params.TerminalInterval == "" {
		params.TerminalInterval = models.EndOfMinute
	}
	if !params.TerminalInterval.IsValid() {
		return nil, &models.ConfigurationError{Field: "terminal_interval", Value: string(params.TerminalInterval), Reason: "unrecognized interval"}
	}
	sched, err := service.NewScheduler(params.Intervals)
	if err != nil {
		return nil, err
	}
	params.Intervals = sched.Intervals()

	e := &Engine{params: params, sched: sched}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = service.SystemClock{}
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop{}
	}
	if e.gate == nil {
		e.gate = NewGate()
	}
	if e.noise == nil {
		e.noise = service.NewNoiseSource(params.Seed)
	}
	e.gen = service.NewPriceGenerator(e.noise)
	e.sim = models.SimulationState{Step: 0, Horizon: params.Horizon, Volatility: params.Volatility}
	return e, nil
}

// Load validates the market document. On failure the engine is Failed and
// nothing has been emitted.
func (e *Engine) Load(raw map[string]any) error {
	if s := e.State(); s != models.StateIdle {
		return fmt.Errorf("load in state %s", s)
	}
	e.transition(models.StateLoading)
	snap, err := service.ValidateMarketData(raw)
	if err != nil {
		e.metrics.RecordError("validation")
		e.transition(models.StateFailed)
		return err
	}
	e.snap = snap
	return nil
}

// Execute is Load followed by Run.
func (e *Engine) Execute(ctx context.Context, raw map[string]any) (*models.RunResult, error) {
	if err := e.Load(raw); err != nil {
		now := e.clock.Now()
		return &models.RunResult{State: models.StateFailed, StartedAt: now, FinishedAt: now, Err: err}, err
	}
	return e.Run(ctx)
}

// Run drives the loaded snapshot to its close. An interrupted run returns
// the partial log with State Failed and an InterruptedError.
func (e *Engine) Run(ctx context.Context) (*models.RunResult, error) {
	if e.State() != models.StateLoading {
		return nil, ErrNotLoaded
	}
	e.start = e.clock.Now()
	e.pacer = service.NewPacer(e.clock, e.start, e.params.StepDuration)

	e.sim.CurrentPrice = e.snap.Open
	e.setProgress(0, e.snap.Open)
	e.transition(models.StateRunning)
	e.log.Info("run started",
		logger.Float64("open", e.snap.Open),
		logger.Float64("close", e.snap.Close),
		logger.Int("horizon", e.params.Horizon),
		logger.Float64("volatility", e.params.Volatility),
		logger.Uint64("seed", e.params.Seed),
	)
	e.emitDue(0, e.start)

	horizon := e.params.Horizon
	for step := 1; step < horizon; step++ {
		if err := e.boundary(ctx, step); err != nil {
			return e.fail(err)
		}
		price := e.gen.Next(e.sim.CurrentPrice, e.snap, step, horizon, e.params.Volatility)
		if err := e.pacer.WaitForStep(ctx, step); err != nil {
			return e.fail(err)
		}
		e.metrics.RecordStepLateness(e.pacer.Lateness().Seconds())
		e.sim.CurrentPrice = price
		e.sim.Step = step
		e.setProgress(step, price)
		e.emitDue(step, e.clock.Now())
	}

	if err := e.boundary(ctx, horizon); err != nil {
		return e.fail(err)
	}
	if err := e.pacer.WaitForStep(ctx, horizon); err != nil {
		return e.fail(err)
	}
	e.converge(horizon)
	if err := e.verify(); err != nil {
		e.metrics.RecordError("invariant")
		return e.fail(err)
	}

	e.transition(models.StateComplete)
	res := e.result(nil)
	e.log.Info("run complete",
		logger.Float64("final_price", res.FinalPrice),
		logger.Int("observations", len(res.Observations)),
		logger.Duration("waited", e.pacer.Waited()),
	)
	e.metrics.RecordLatency("run", res.FinishedAt.Sub(res.StartedAt).Seconds())
	return res, nil
}

// boundary honours cancellation and pause between steps. Paused time is
// pushed onto the schedule so a resumed run does not rush missed steps.
func (e *Engine) boundary(ctx context.Context, step int) error {
	if err := ctx.Err(); err != nil {
		return &models.InterruptedError{Step: step, Cause: err}
	}
	if !e.gate.Paused() {
		return nil
	}
	e.log.Info("run paused", logger.Int("step", step))
	held, err := e.gate.Wait(ctx, e.clock)
	e.pacer.Shift(held)
	if err != nil {
		return &models.InterruptedError{Step: step, Cause: err}
	}
	e.log.Info("run resumed", logger.Int("step", step), logger.Duration("paused_for", held))
	return nil
}

// converge is the terminal transition: the price snaps to close and one
// observation is emitted on the terminal interval whatever the schedule says.
func (e *Engine) converge(step int) {
	e.transition(models.StateConverging)
	e.sim.CurrentPrice = e.snap.Close
	e.sim.Step = step
	e.setProgress(step, e.snap.Close)
	e.emit(models.Observation{
		Step:      step,
		Interval:  e.params.TerminalInterval,
		Price:     e.snap.Close,
		Timestamp: e.clock.Now(),
	})
}

func (e *Engine) verify() error {
	for _, o := range e.obs {
		if !e.snap.Contains(o.Price) {
			return &models.InternalInvariantError{Step: o.Step, Price: o.Price, Reason: "price outside [low, high]"}
		}
	}
	if e.sim.CurrentPrice != e.snap.Close {
		return &models.InternalInvariantError{Step: e.sim.Step, Price: e.sim.CurrentPrice, Reason: "final price differs from close"}
	}
	return nil
}

func (e *Engine) emitDue(step int, ts time.Time) {
	for _, iv := range e.sched.Due(step, e.params.Horizon) {
		e.emit(models.Observation{Step: step, Interval: iv, Price: e.sim.CurrentPrice, Timestamp: ts})
	}
}

func (e *Engine) emit(o models.Observation) {
	e.obs = append(e.obs, o)
	if e.sink != nil {
		e.sink.Emit(o)
	}
	e.metrics.RecordObservation(o.Interval.String(), o.Price)
	e.log.Debug("observation",
		logger.Int("step", o.Step),
		logger.String("interval", o.Interval.String()),
		logger.Float64("price", o.Price),
	)
}

func (e *Engine) fail(err error) (*models.RunResult, error) {
	e.transition(models.StateFailed)
	var ie *models.InterruptedError
	if errors.As(err, &ie) {
		e.metrics.RecordError("interrupted")
		e.log.Warn("run interrupted", logger.Int("step", ie.Step), logger.Int("observations", len(e.obs)))
	} else {
		e.log.Error("run failed", logger.Error(err))
	}
	return e.result(err), err
}

func (e *Engine) result(err error) *models.RunResult {
	obs := make([]models.Observation, len(e.obs))
	copy(obs, e.obs)
	return &models.RunResult{
		State:        e.State(),
		Snapshot:     e.snap,
		Observations: obs,
		FinalPrice:   e.sim.CurrentPrice,
		StartedAt:    e.start,
		FinishedAt:   e.clock.Now(),
		Err:          err,
	}
}

func (e *Engine) transition(s models.RunState) {
	e.state.Store(int32(s))
	e.metrics.RecordRunState(s.String())
	e.log.Debug("state", logger.String("state", s.String()))
}

func (e *Engine) setProgress(step int, price float64) {
	e.step.Store(int64(step))
	e.priceBits.Store(math.Float64bits(price))
}

func (e *Engine) State() models.RunState { return models.RunState(e.state.Load()) }

func (e *Engine) Step() int { return int(e.step.Load()) }

func (e *Engine) Price() float64 { return math.Float64frombits(e.priceBits.Load()) }

// Params returns the normalized parameters the engine runs with.
func (e *Engine) Params() models.RunParams { return e.params }

func (e *Engine) Gate() *Gate { return e.gate }
