package models

import (
	"fmt"
	"time"
)

// RunState is the orchestrator lifecycle state.
type RunState int

const (
	StateIdle RunState = iota
	StateLoading
	StateRunning
	StateConverging
	StateComplete
	StateFailed
)

var runStateNames = [...]string{"idle", "loading", "running", "converging", "complete", "failed"}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(runStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return runStateNames[s]
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RunState) UnmarshalText(b []byte) error {
	for i, name := range runStateNames {
		if name == string(b) {
			*s = RunState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", b)
}

// RunParams configures a single run.
type RunParams struct {
	Volatility       float64
	Horizon          int
	Intervals        []Interval
	Seed             uint64
	StepDuration     time.Duration
	TerminalInterval Interval
}

// RunResult is handed back at the end of a run, including on failure.
type RunResult struct {
	State        RunState
	Snapshot     MarketSnapshot
	Observations []Observation
	FinalPrice   float64
	StartedAt    time.Time
	FinishedAt   time.Time
	Err          error
}

// RunRecord is what exporters persist.
type RunRecord struct {
	RunID  string
	Params RunParams
	Result *RunResult
}

// RunStatus is the host-visible view of a run.
type RunStatus struct {
	RunID     string      `json:"run_id"`
	State     RunState    `json:"state"`
	Paused    bool        `json:"paused"`
	Step      int         `json:"step"`
	Horizon   int         `json:"horizon"`
	Price     float64     `json:"price"`
	Seed      uint64      `json:"seed"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary aggregates the emitted price path.
type RunSummary struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// Summarize computes OHLC and mean over obs in emission order.
func Summarize(obs []Observation) RunSummary {
	if len(obs) == 0 {
		return RunSummary{}
	}
	s := RunSummary{
		Open:  obs[0].Price,
		High:  obs[0].Price,
		Low:   obs[0].Price,
		Close: obs[len(obs)-1].Price,
		Count: len(obs),
	}
	var sum float64
	for _, o := range obs {
		if o.Price > s.High {
			s.High = o.Price
		}
		if o.Price < s.Low {
			s.Low = o.Price
		}
		sum += o.Price
	}
	s.Mean = sum / float64(len(obs))
	return s
}
