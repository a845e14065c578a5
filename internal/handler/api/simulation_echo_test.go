package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PriceSim/internal/domain/models"
	"PriceSim/internal/domain/service"
	smetrics "PriceSim/internal/service/metrics"
	"PriceSim/internal/service/ratelimit"
	"PriceSim/internal/usecase"
	xhttp "PriceSim/pkg/http"
	xlogger "PriceSim/pkg/logger"
	"PriceSim/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const marketJSON = `{"open":154.12,"high":154.89,"low":153.95,"close":154.71}`

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type fixture struct {
	runs *usecase.RunManager
	srv  *xhttp.Server
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	runs := usecase.NewRunManager(usecase.ManagerConfig{}, xlogger.Nop(), metrics.Nop{}, nil, nil).
		WithClock(service.NewVirtualClock(time.Date(2024, 10, 10, 9, 30, 0, 0, time.UTC)))
	t.Cleanup(func() { _ = runs.Shutdown(context.Background()) })

	h := NewSimulationEchoHandler(xlogger.Nop(), runs, limiter,
		SimulationDefaults{Volatility: 0.1, Horizon: 60, StepDuration: time.Second}, smetrics.ForRegisterer(reg))
	return &fixture{runs: runs, srv: xhttp.NewServer(h, xlogger.Nop(), xhttp.WithMetrics("/metrics", reg, reg))}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (f *fixture) start(t *testing.T, body string) string {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	var out models.StartRunResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.RunID)
	s, err := f.runs.Get(out.RunID)
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.NoError(t, err)
	return out.RunID
}

func TestStartStatusAndDrain(t *testing.T) {
	f := newFixture(t, nil)
	id := f.start(t, `{"market":`+marketJSON+`,"horizon":60,"seed":42}`)

	code, env := f.do(t, http.MethodGet, "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, code)
	var st models.RunStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Equal(t, models.StateComplete, st.State)
	require.Equal(t, 154.71, st.Price)
	require.Equal(t, uint64(42), st.Seed)
	require.NotNil(t, st.Summary)

	code, env = f.do(t, http.MethodGet, "/api/runs/"+id+"/observations", "")
	require.Equal(t, http.StatusOK, code)
	var page models.ObservationsResponse
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.True(t, page.Done)
	require.Equal(t, st.Summary.Count, len(page.Observations))
	require.Equal(t, 60, page.Observations[len(page.Observations)-1].Step)

	_, env = f.do(t, http.MethodGet, "/api/runs/"+id+"/observations", "")
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Empty(t, page.Observations)
}

func TestStartRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name string
		body string
		code string
	}{
		{"high below low", `{"market":{"open":154.12,"high":153.95,"low":154.89,"close":154.71}}`, "ERR_INVALID_MARKET"},
		{"missing key", `{"market":{"open":1,"high":2}}`, "ERR_INVALID_MARKET"},
		{"volatility", `{"market":` + marketJSON + `,"volatility":2.5}`, "ERR_LTE"},
		{"no market", `{"horizon":10}`, "ERR_REQUIRED"},
		{"zero horizon", `{"market":` + marketJSON + `,"horizon":0}`, "ERR_GT"},
		{"negative horizon", `{"market":` + marketJSON + `,"horizon":-5}`, "ERR_GT"},
		{"interval", `{"market":` + marketJSON + `,"intervals":["WEEKLY"]}`, "ERR_INVALID_CONFIGURATION"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := f.do(t, http.MethodPost, "/api/runs", tc.body)
			require.Equal(t, http.StatusBadRequest, code)
			require.Contains(t, string(env.Data), tc.code)
		})
	}
	require.Zero(t, f.runs.Active())
}

func TestStartHorizonDefaultsWhenOmitted(t *testing.T) {
	f := newFixture(t, nil)
	id := f.start(t, `{"market":`+marketJSON+`,"seed":3}`)
	s, err := f.runs.Get(id)
	require.NoError(t, err)
	require.Equal(t, 60, s.Params().Horizon)

	id = f.start(t, `{"market":`+marketJSON+`,"horizon":7,"seed":3}`)
	s, err = f.runs.Get(id)
	require.NoError(t, err)
	require.Equal(t, 7, s.Params().Horizon)
}

func TestUnknownRun(t *testing.T) {
	f := newFixture(t, nil)
	for _, p := range []string{"/api/runs/nope", "/api/runs/nope/observations", "/api/runs/nope/stream"} {
		code, _ := f.do(t, http.MethodGet, p, "")
		require.Equal(t, http.StatusNotFound, code, p)
	}
	for _, op := range []string{"pause", "resume", "cancel"} {
		code, _ := f.do(t, http.MethodPost, "/api/runs/nope/"+op, "")
		require.Equal(t, http.StatusNotFound, code, op)
	}
}

func TestPauseResumeCancel(t *testing.T) {
	f := newFixture(t, nil)
	code, env := f.do(t, http.MethodPost, "/api/runs", `{"market":`+marketJSON+`,"horizon":3600,"step_ms":1000}`)
	require.Equal(t, http.StatusCreated, code)
	var out models.StartRunResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	s, err := f.runs.Get(out.RunID)
	require.NoError(t, err)

	_, env = f.do(t, http.MethodPost, "/api/runs/"+out.RunID+"/pause", "")
	var ctl models.ControlResponse
	require.NoError(t, json.Unmarshal(env.Data, &ctl))
	require.True(t, ctl.Changed)
	require.True(t, ctl.Paused)

	_, env = f.do(t, http.MethodPost, "/api/runs/"+out.RunID+"/pause", "")
	require.NoError(t, json.Unmarshal(env.Data, &ctl))
	require.False(t, ctl.Changed)

	_, env = f.do(t, http.MethodPost, "/api/runs/"+out.RunID+"/resume", "")
	require.NoError(t, json.Unmarshal(env.Data, &ctl))
	require.True(t, ctl.Changed)
	require.False(t, ctl.Paused)

	code, _ = f.do(t, http.MethodPost, "/api/runs/"+out.RunID+"/cancel", "")
	require.Equal(t, http.StatusOK, code)
	_, err = s.Wait(context.Background())
	// the virtual clock may let the run finish before the cancel lands
	if err != nil {
		var ie *models.InterruptedError
		require.ErrorAs(t, err, &ie)
	}
}

func TestStartRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.New(1, 0.0001))
	f.start(t, `{"market":`+marketJSON+`,"horizon":5}`)
	code, _ := f.do(t, http.MethodPost, "/api/runs", `{"market":`+marketJSON+`,"horizon":5}`)
	require.Equal(t, http.StatusTooManyRequests, code)
}

func TestStreamReplaysFinishedRun(t *testing.T) {
	f := newFixture(t, nil)
	id := f.start(t, `{"market":`+marketJSON+`,"horizon":30,"seed":1}`)
	s, err := f.runs.Get(id)
	require.NoError(t, err)
	want := s.Status().Summary.Count

	ts := httptest.NewServer(f.srv.Echo())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/runs/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frames []streamFrame
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var fr streamFrame
		if err := conn.ReadJSON(&fr); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		frames = append(frames, fr)
	}
	require.Len(t, frames, want+1)
	require.Equal(t, "observation", frames[0].Type)
	require.Equal(t, 0, frames[0].Observation.Step)
	last := frames[len(frames)-1]
	require.Equal(t, "status", last.Type)
	require.Equal(t, models.StateComplete, last.Status.State)
}

func TestStreamFromStep(t *testing.T) {
	f := newFixture(t, nil)
	id := f.start(t, `{"market":`+marketJSON+`,"horizon":10,"seed":1,"intervals":["EVERY_SECOND"],"terminal_interval":"EVERY_SECOND"}`)

	ts := httptest.NewServer(f.srv.Echo())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/runs/" + id + "/stream?from_step=8"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var steps []int
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var fr streamFrame
		if err := conn.ReadJSON(&fr); err != nil {
			break
		}
		if fr.Type == "observation" {
			steps = append(steps, fr.Observation.Step)
		}
	}
	require.Equal(t, []int{8, 9, 10}, steps)
}
