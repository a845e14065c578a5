package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"PriceSim/internal/domain/models"
	drepo "PriceSim/internal/domain/repository"
	"PriceSim/internal/domain/service"
	"PriceSim/pkg/logger"
	"PriceSim/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyStarted is returned by a second Start on the same session.
var ErrAlreadyStarted = errors.New("session already started")

const exportTimeout = 30 * time.Second

// SessionOption customizes a Session.
type SessionOption func(*Session)

func WithExporters(exp ...drepo.Exporter) SessionOption {
	return func(s *Session) { s.exporters = append(s.exporters, exp...) }
}

func WithStatusCache(c drepo.StatusCache) SessionOption {
	return func(s *Session) { s.status = c }
}

func WithSessionLogger(l *logger.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

func WithSessionMetrics(m drepo.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func WithSessionClock(c service.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// Session is the host-facing control surface around one Engine. The engine
// runs on its own goroutine and hands observations over through mailboxes,
// so consumers never hold it up.
type Session struct {
	id        string
	params    models.RunParams
	engine    *Engine
	gate      *Gate
	mailbox   *Mailbox
	exporters []drepo.Exporter
	status    drepo.StatusCache
	log       *logger.Logger
	metrics   drepo.Metrics
	clock     service.Clock

	mu      sync.Mutex
	history []models.Observation
	subs    map[int]*Mailbox
	nextSub int
	started bool
	result  *models.RunResult
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession builds the engine eagerly so parameter errors surface here.
func NewSession(id string, params models.RunParams, opts ...SessionOption) (*Session, error) {
	s := &Session{
		id:      id,
		gate:    NewGate(),
		mailbox: NewMailbox(),
		subs:    make(map[int]*Mailbox),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.clock == nil {
		s.clock = service.SystemClock{}
	}
	s.log = s.log.With(logger.String("run_id", id))

	engine, err := NewEngine(params,
		WithClock(s.clock),
		WithSink(s),
		WithLogger(s.log),
		WithMetrics(s.metrics),
		WithGate(s.gate),
	)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.params = engine.Params()
	return s, nil
}

// Start validates market synchronously and then runs in the background.
// Validation errors are returned before any observation exists.
func (s *Session) Start(ctx context.Context, market map[string]any) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.engine.Load(market); err != nil {
		s.finish(&models.RunResult{State: models.StateFailed, Err: err}, err)
		s.publishStatus(ctx)
		close(s.done)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	s.publishStatus(ctx)

	res, err := s.engine.Run(ctx)
	s.finish(res, err)

	// the run context may be cancelled already; exports still go out
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()
	s.export(bg, res)
	s.publishStatus(bg)
}

func (s *Session) finish(res *models.RunResult, err error) {
	s.mu.Lock()
	s.result = res
	s.err = err
	subs := s.subs
	s.subs = make(map[int]*Mailbox)
	s.mu.Unlock()

	s.mailbox.Close()
	for _, mb := range subs {
		mb.Close()
	}
}

func (s *Session) export(ctx context.Context, res *models.RunResult) {
	if res == nil || len(res.Observations) == 0 {
		return
	}
	rec := &models.RunRecord{RunID: s.id, Params: s.params, Result: res}
	// sinks are independent; a failing one does not stop the others
	var g errgroup.Group
	for _, exp := range s.exporters {
		g.Go(func() error {
			start := time.Now()
			if err := exp.Export(ctx, rec); err != nil {
				s.metrics.RecordError("export_" + exp.Name())
				s.log.Error("export failed", logger.String("exporter", exp.Name()), logger.Error(err))
				return nil
			}
			s.metrics.RecordLatency("export_"+exp.Name(), time.Since(start).Seconds())
			s.log.Info("run exported", logger.String("exporter", exp.Name()), logger.Int("observations", len(res.Observations)))
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Session) publishStatus(ctx context.Context) {
	if s.status == nil {
		return
	}
	if err := s.status.PutStatus(ctx, s.Status()); err != nil {
		s.metrics.RecordError("status_cache")
		s.log.Warn("status update failed", logger.Error(err))
	}
}

// Emit implements ObservationSink for the engine.
func (s *Session) Emit(o models.Observation) {
	s.mu.Lock()
	s.history = append(s.history, o)
	subs := make([]*Mailbox, 0, len(s.subs))
	for _, mb := range s.subs {
		subs = append(subs, mb)
	}
	s.mu.Unlock()

	s.mailbox.Emit(o)
	for _, mb := range subs {
		mb.Emit(o)
	}
}

// Drain returns the observations produced since the previous Drain.
func (s *Session) Drain() []models.Observation { return s.mailbox.Drain() }

// Subscribe returns a private mailbox preloaded with everything emitted so
// far. The returned func detaches it.
func (s *Session) Subscribe() (*Mailbox, func()) {
	mb := NewMailbox()
	s.mu.Lock()
	for _, o := range s.history {
		mb.Emit(o)
	}
	if s.result != nil {
		s.mu.Unlock()
		mb.Close()
		return mb, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = mb
	s.mu.Unlock()

	return mb, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		mb.Close()
	}
}

func (s *Session) Pause(ctx context.Context) bool {
	changed := s.gate.Pause()
	if changed {
		s.publishStatus(ctx)
	}
	return changed
}

func (s *Session) Resume(ctx context.Context) bool {
	changed := s.gate.Resume()
	if changed {
		s.publishStatus(ctx)
	}
	return changed
}

// Cancel interrupts the run; the partial log is kept and exported.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the run has finished and its exports are done.
func (s *Session) Wait(ctx context.Context) (*models.RunResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) ID() string { return s.id }

func (s *Session) Params() models.RunParams { return s.params }

func (s *Session) Status() models.RunStatus {
	s.mu.Lock()
	summary := models.Summarize(s.history)
	var errMsg string
	if s.err != nil {
		errMsg = s.err.Error()
	}
	s.mu.Unlock()

	st := models.RunStatus{
		RunID:     s.id,
		State:     s.engine.State(),
		Paused:    s.gate.Paused(),
		Step:      s.engine.Step(),
		Horizon:   s.params.Horizon,
		Price:     s.engine.Price(),
		Seed:      s.params.Seed,
		Error:     errMsg,
		UpdatedAt: s.clock.Now(),
	}
	if summary.Count > 0 {
		st.Summary = &summary
	}
	return st
}
