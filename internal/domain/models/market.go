package models

import (
	"math"
	"time"
)

// MarketSnapshot is the validated open/high/low/close quadruple that bounds a run.
type MarketSnapshot struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Contains reports whether p lies within [Low, High].
func (s MarketSnapshot) Contains(p float64) bool {
	return p >= s.Low && p <= s.High
}

// Clamp pins p into [Low, High]. NaN collapses to Close.
func (s MarketSnapshot) Clamp(p float64) float64 {
	if math.IsNaN(p) {
		return s.Close
	}
	if p < s.Low {
		return s.Low
	}
	if p > s.High {
		return s.High
	}
	return p
}

// Observation is one emitted price record.
type Observation struct {
	Step      int       `json:"step"`
	Interval  Interval  `json:"interval"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// SimulationState is the mutable per-run state owned by the engine.
type SimulationState struct {
	CurrentPrice float64
	Step         int
	Horizon      int
	Volatility   float64
}
