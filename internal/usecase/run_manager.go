package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"PriceSim/internal/domain/models"
	drepo "PriceSim/internal/domain/repository"
	"PriceSim/internal/domain/service"
	"PriceSim/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// StartRequest is what a host hands over to start a run.
type StartRequest struct {
	Market           map[string]any `json:"market" validate:"required"`
	Volatility       float64        `json:"volatility" validate:"gte=0,lte=2"`
	Horizon          int            `json:"horizon" validate:"gt=0"`
	Intervals        []string       `json:"intervals"`
	Seed             *uint64        `json:"seed"`
	StepDuration     time.Duration  `json:"step_duration" validate:"gte=0"`
	TerminalInterval string         `json:"terminal_interval"`
}

type ManagerConfig struct {
	// MaxRetained caps finished runs kept in memory; their status stays in the cache.
	MaxRetained          int
	SkipUnknownIntervals bool
	TerminalInterval     string
}

// RunManager owns the sessions started through a host, keyed by run ID.
type RunManager struct {
	cfg       ManagerConfig
	log       *logger.Logger
	metrics   drepo.Metrics
	status    drepo.StatusCache
	exporters []drepo.Exporter
	clock     service.Clock
	validate  *validator.Validate

	base   context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	runs  map[string]*Session
	order []string
}

func NewRunManager(cfg ManagerConfig, log *logger.Logger, m drepo.Metrics, status drepo.StatusCache, exporters []drepo.Exporter) *RunManager {
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 100
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	base, cancel := context.WithCancel(context.Background())
	return &RunManager{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		status:    status,
		exporters: exporters,
		clock:     service.SystemClock{},
		validate:  v,
		base:      base,
		cancel:    cancel,
		runs:      make(map[string]*Session),
	}
}

// WithClock swaps the clock used by new sessions. Meant for tests.
func (m *RunManager) WithClock(c service.Clock) *RunManager {
	m.clock = c
	return m
}

// Params turns a request into RunParams, applying the interval policy.
func (m *RunManager) Params(req StartRequest) (models.RunParams, error) {
	if err := m.validate.Struct(req); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			fe := ves[0]
			return models.RunParams{}, &models.ConfigurationError{
				Field:  fe.Field(),
				Value:  fmt.Sprint(fe.Value()),
				Reason: fmt.Sprintf("failed %s%s", fe.Tag(), paramSuffix(fe.Param())),
			}
		}
		return models.RunParams{}, &models.ConfigurationError{Field: "request", Reason: err.Error()}
	}

	intervals, err := service.ResolveIntervals(req.Intervals, m.cfg.SkipUnknownIntervals, func(name string) {
		m.log.Warn("unknown interval skipped", logger.String("interval", name))
	})
	if err != nil {
		return models.RunParams{}, err
	}
	if len(req.Intervals) > 0 && len(intervals) == 0 {
		return models.RunParams{}, &models.ConfigurationError{Field: "intervals", Reason: "no recognized interval requested"}
	}

	terminal := req.TerminalInterval
	if terminal == "" {
		terminal = m.cfg.TerminalInterval
	}
	var term models.Interval
	if terminal != "" {
		if term, err = models.ParseInterval(terminal); err != nil {
			return models.RunParams{}, err
		}
	}

	seed := uint64(m.clock.Now().UnixNano())
	if req.Seed != nil {
		seed = *req.Seed
	}
	return models.RunParams{
		Volatility:       req.Volatility,
		Horizon:          req.Horizon,
		Intervals:        intervals,
		Seed:             seed,
		StepDuration:     req.StepDuration,
		TerminalInterval: term,
	}, nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// Start registers and launches a run. Validation and configuration errors
// come back before anything runs.
func (m *RunManager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	params, err := m.Params(req)
	if err != nil {
		m.metrics.RecordError("configuration")
		return nil, err
	}
	id := uuid.NewString()
	s, err := NewSession(id, params,
		WithExporters(m.exporters...),
		WithStatusCache(m.status),
		WithSessionLogger(m.log),
		WithSessionMetrics(m.metrics),
		WithSessionClock(m.clock),
	)
	if err != nil {
		m.metrics.RecordError("configuration")
		return nil, err
	}
	// runs outlive the request that started them
	if err := s.Start(m.base, req.Market); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.runs[id] = s
	m.order = append(m.order, id)
	m.evictLocked()
	m.mu.Unlock()

	m.log.Info("run registered", logger.String("run_id", id), logger.Uint64("seed", params.Seed))
	return s, nil
}

func (m *RunManager) evictLocked() {
	for len(m.order) > m.cfg.MaxRetained {
		evicted := false
		for i, id := range m.order {
			s := m.runs[id]
			select {
			case <-s.Done():
			default:
				continue
			}
			delete(m.runs, id)
			m.order = append(m.order[:i], m.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (m *RunManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	return s, nil
}

// Status prefers the live session and falls back to the status cache for
// evicted runs.
func (m *RunManager) Status(ctx context.Context, id string) (models.RunStatus, error) {
	if s, err := m.Get(id); err == nil {
		return s.Status(), nil
	}
	if m.status == nil {
		return models.RunStatus{}, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	return m.status.GetStatus(ctx, id)
}

func (m *RunManager) Pause(ctx context.Context, id string) (bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return false, err
	}
	return s.Pause(ctx), nil
}

func (m *RunManager) Resume(ctx context.Context, id string) (bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return false, err
	}
	return s.Resume(ctx), nil
}

func (m *RunManager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

func (m *RunManager) Drain(id string) ([]models.Observation, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Drain(), nil
}

// Active counts runs that have not finished yet.
func (m *RunManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.runs {
		select {
		case <-s.Done():
		default:
			n++
		}
	}
	return n
}

// Shutdown cancels every run and waits for their exports, or for ctx.
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.cancel()
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.runs))
	for _, s := range m.runs {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
