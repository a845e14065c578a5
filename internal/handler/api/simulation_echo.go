package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"PriceSim/internal/domain/models"
	smetrics "PriceSim/internal/service/metrics"
	"PriceSim/internal/service/ratelimit"
	"PriceSim/internal/usecase"
	xhttp "PriceSim/pkg/http"
	xlogger "PriceSim/pkg/logger"
	xutil "PriceSim/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// SimulationDefaults fill in what a start request leaves out.
type SimulationDefaults struct {
	Volatility   float64
	Horizon      int
	StepDuration time.Duration
	Intervals    []string
}

// SimulationEchoHandler exposes the run control surface over Echo.
type SimulationEchoHandler struct {
	logger    *xlogger.Logger
	runs      *usecase.RunManager
	limiter   *ratelimit.Limiter
	defaults  SimulationDefaults
	stream    *smetrics.StreamMetrics
	upgrader  websocket.Upgrader
	pingEvery time.Duration
}

func NewSimulationEchoHandler(
	logger *xlogger.Logger,
	runs *usecase.RunManager,
	limiter *ratelimit.Limiter,
	defaults SimulationDefaults,
	stream *smetrics.StreamMetrics,
) *SimulationEchoHandler {
	return &SimulationEchoHandler{
		logger:   logger,
		runs:     runs,
		limiter:  limiter,
		defaults: defaults,
		stream:   stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingEvery: 20 * time.Second,
	}
}

func (h *SimulationEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/runs")
	g.POST("", h.Start, h.limiter.Middleware())
	g.GET("/:id", h.Status)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/:id/cancel", h.Cancel)
	g.GET("/:id/observations", h.Observations)
	g.GET("/:id/stream", h.Stream)
}

func (h *SimulationEchoHandler) Start(c echo.Context) error {
	req := &models.StartRunRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	start := usecase.StartRequest{
		Market:           req.Market,
		Volatility:       h.defaults.Volatility,
		Horizon:          h.defaults.Horizon,
		Intervals:        req.Intervals,
		Seed:             req.Seed,
		StepDuration:     h.defaults.StepDuration,
		TerminalInterval: req.TerminalInterval,
	}
	if req.Volatility != nil {
		start.Volatility = *req.Volatility
	}
	if req.Horizon != nil {
		start.Horizon = *req.Horizon
	}
	if req.StepMillis != nil {
		start.StepDuration = time.Duration(*req.StepMillis) * time.Millisecond
	}
	if len(start.Intervals) == 0 {
		start.Intervals = h.defaults.Intervals
	}

	s, err := h.runs.Start(c.Request().Context(), start)
	if err != nil {
		h.logger.Warn("run rejected", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.CreatedResponse(c, models.StartRunResponse{RunID: s.ID(), Seed: s.Params().Seed})
}

func (h *SimulationEchoHandler) Status(c echo.Context) error {
	st, err := h.runs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *SimulationEchoHandler) Pause(c echo.Context) error {
	return h.control(c, h.runs.Pause)
}

func (h *SimulationEchoHandler) Resume(c echo.Context) error {
	return h.control(c, h.runs.Resume)
}

func (h *SimulationEchoHandler) Cancel(c echo.Context) error {
	id := c.Param("id")
	if err := h.runs.Cancel(id); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	h.logger.Info("run cancel requested", xlogger.String("run_id", id))
	return h.controlResponse(c, id, true)
}

func (h *SimulationEchoHandler) control(c echo.Context, op func(ctx context.Context, id string) (bool, error)) error {
	id := c.Param("id")
	changed, err := op(c.Request().Context(), id)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return h.controlResponse(c, id, changed)
}

func (h *SimulationEchoHandler) controlResponse(c echo.Context, id string, changed bool) error {
	st, err := h.runs.Status(c.Request().Context(), id)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, models.ControlResponse{RunID: id, Changed: changed, State: st.State, Paused: st.Paused})
}

// Observations drains what the run produced since the previous call.
func (h *SimulationEchoHandler) Observations(c echo.Context) error {
	id := c.Param("id")
	s, err := h.runs.Get(id)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	// checked before draining so a done=true page is always the last one
	done := isDone(s)
	obs := s.Drain()
	if obs == nil {
		obs = []models.Observation{}
	}
	return xhttp.SuccessResponse(c, models.ObservationsResponse{RunID: id, Observations: obs, Done: done})
}

func isDone(s *usecase.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

type streamFrame struct {
	Type        string              `json:"type"`
	Observation *models.Observation `json:"observation,omitempty"`
	Status      *models.RunStatus   `json:"status,omitempty"`
}

// Stream pushes every observation of a run as JSON frames, starting at
// ?from_step (0 by default), and finishes with a status frame once the run
// is over.
func (h *SimulationEchoHandler) Stream(c echo.Context) error {
	id := c.Param("id")
	s, err := h.runs.Get(id)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	fromStep := xutil.ParseIntDefault(c.QueryParam("from_step"), 0)
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Debug("websocket upgrade failed", xlogger.String("run_id", id), xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	mb, detach := s.Subscribe()
	defer detach()
	h.stream.Active.Inc()
	defer h.stream.Active.Dec()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingEvery)
	defer ping.Stop()

	write := func(f streamFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(f); err != nil {
			h.stream.Drops.Inc()
			h.logger.Debug("stream write failed", xlogger.String("run_id", id), xlogger.Error(err))
			return err
		}
		h.stream.Frames.WithLabelValues(f.Type).Inc()
		return nil
	}
	flush := func() error {
		for _, o := range mb.Drain() {
			if o.Step < fromStep {
				continue
			}
			if err := write(streamFrame{Type: "observation", Observation: &o}); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case <-mb.Ready():
			if flush() != nil {
				return nil
			}
		case <-mb.Done():
			if flush() != nil {
				return nil
			}
			st := s.Status()
			if write(streamFrame{Type: "status", Status: &st}) != nil {
				return nil
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, st.State.String())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return nil
		case <-gone:
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return nil
			}
		}
	}
}

func toAppError(err error) *xhttp.AppError {
	var (
		ve *models.ValidationError
		ce *models.ConfigurationError
	)
	switch {
	case errors.As(err, &ve):
		ae := xhttp.NewAppError("ERR_INVALID_MARKET", "market", ve.Error(), http.StatusBadRequest)
		if len(ve.Missing) > 0 {
			ae.WithParam("missing", ve.Missing)
		}
		return ae
	case errors.As(err, &ce):
		return xhttp.NewAppError("ERR_INVALID_CONFIGURATION", ce.Field, ce.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrRunNotFound):
		return xhttp.NotFoundError("run not found")
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
