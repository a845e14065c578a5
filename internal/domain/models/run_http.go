package models

// StartRunRequest is the body of POST /api/runs. Nil pointers fall back to
// the configured simulation defaults.
type StartRunRequest struct {
	Market           map[string]any `json:"market" validate:"required"`
	Volatility       *float64       `json:"volatility" validate:"omitempty,gte=0,lte=2"`
	Horizon          *int           `json:"horizon" validate:"omitempty,gt=0,lte=86400"`
	Intervals        []string       `json:"intervals" validate:"omitempty,max=5"`
	Seed             *uint64        `json:"seed"`
	StepMillis       *int           `json:"step_ms" validate:"omitempty,gte=0,lte=60000"`
	TerminalInterval string         `json:"terminal_interval"`
}

type StartRunResponse struct {
	RunID string `json:"run_id"`
	Seed  uint64 `json:"seed"`
}

type ControlResponse struct {
	RunID   string   `json:"run_id"`
	Changed bool     `json:"changed"`
	State   RunState `json:"state"`
	Paused  bool     `json:"paused"`
}

type ObservationsResponse struct {
	RunID        string        `json:"run_id"`
	Observations []Observation `json:"observations"`
	Done         bool          `json:"done"`
}
